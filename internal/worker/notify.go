package worker

// 统一的导出通知协议（通过 Redis Pub/Sub 转发给前端 WebSocket）。
// 字段名与前端解析保持一致。
type PDFExportNotifyMessage struct {
	Status        string   `json:"status"`
	ResumeID      uint     `json:"resume_id"`
	CorrelationID string   `json:"correlation_id"`
	PdfObjectKey  string   `json:"pdf_object_key,omitempty"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}
