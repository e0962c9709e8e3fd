package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"cvforge/internal/sections"
	"cvforge/internal/validate"
)

func TestSectionErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not authenticated", sections.ErrNotAuthenticated, http.StatusUnauthorized},
		{"not found", sections.ErrNotFound, http.StatusNotFound},
		{"invalid reorder set", sections.ErrInvalidReorderSet, http.StatusBadRequest},
		{"wrapped persistence", errors.Join(sections.ErrPersistence, errors.New("db down")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			sectionError(c, tc.err)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestSectionErrorValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	verr := &validate.Error{Fields: []validate.FieldError{
		{Field: "name", Message: "is required"},
		{Field: "level", Message: "must be at most 100"},
	}}
	sectionError(c, verr)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Fields) != 2 || body.Fields[0].Field != "name" {
		t.Fatalf("fields not surfaced: %+v", body.Fields)
	}
}

func TestParseResumeID(t *testing.T) {
	if _, err := parseResumeID("0"); err == nil {
		t.Fatal("id 0 accepted")
	}
	if _, err := parseResumeID("abc"); err == nil {
		t.Fatal("non-numeric id accepted")
	}
	id, err := parseResumeID("42")
	if err != nil || id != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", id, err)
	}
}
