package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultRenderTimeout 是未配置渲染超时时的兜底值。
const DefaultRenderTimeout = 30 * time.Second

// A4 纵向尺寸，英寸。导出版式固定 A4，不依赖页面 CSS。
const (
	a4WidthInch  = 8.27
	a4HeightInch = 11.69
)

// Generator 把 HTML 渲染为 A4 PDF。每次调用启动一个无头浏览器，
// 渲染耗时由构造时注入的超时约束。
type Generator struct {
	timeout time.Duration
}

// NewGenerator 创建渲染器。timeout 非正时取 DefaultRenderTimeout。
func NewGenerator(timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	return &Generator{timeout: timeout}
}

// FromHTML 在无头浏览器中渲染 HTML 并返回 PDF 字节。
// ctx 取消或超时会中断渲染。
func (g *Generator) FromHTML(ctx context.Context, htmlContent string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().ControlURL(browserURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	width := a4WidthInch
	height := a4HeightInch
	margin := 0.0
	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      &width,
		PaperHeight:     &height,
		MarginTop:       &margin,
		MarginBottom:    &margin,
		MarginLeft:      &margin,
		MarginRight:     &margin,
	})
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}

	return data, nil
}
