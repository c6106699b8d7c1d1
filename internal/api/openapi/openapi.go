// Пакет openapi — встроенный OpenAPI-контракт Guide Intake.
// Документ загружается и валидируется при старте, отдаётся на /api/openapi.yaml.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var spec []byte

// Document — разобранный и проверенный контракт.
type Document struct {
	doc *openapi3.T
	raw []byte
}

// Load разбирает встроенный документ и проверяет его на соответствие OpenAPI 3.
func Load(ctx context.Context) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI документа: %w", err)
	}

	return &Document{doc: doc, raw: spec}, nil
}

// Version возвращает версию API из info.version.
func (d *Document) Version() string {
	return d.doc.Info.Version
}

// HasOperation сообщает, описана ли операция method path в контракте.
// path — шаблон в нотации OpenAPI ("/api/guides/applications/{id}").
func (d *Document) HasOperation(method, path string) bool {
	item := d.doc.Paths.Value(path)
	if item == nil {
		return false
	}
	return item.GetOperation(method) != nil
}

// Handler отдаёт документ как есть.
func (d *Document) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(d.raw)
	})
}
