// filetype.go — допустимые типы файлов заявки и проверка содержимого резюме.
package service

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	mimePDF  = "application/pdf"
	mimeDoc  = "application/msword"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// allowedResumeTypes — заявленный тип резюме → типы содержимого, которые
// с ним совместимы по результату сигнатурного анализа.
var allowedResumeTypes = map[string][]string{
	mimePDF:  {mimePDF},
	mimeDoc:  {mimeDoc, "application/x-ole-storage"},
	mimeDocx: {mimeDocx, "application/zip"},
}

// allowedVideoTypes — допустимые заявленные типы видео.
var allowedVideoTypes = map[string]bool{
	"video/webm":      true,
	"video/mp4":       true,
	"video/ogg":       true,
	"video/quicktime": true,
}

// normalizeContentType убирает параметры (charset и т.д.) и приводит тип
// к нижнему регистру. Пустой или битый заголовок → "application/octet-stream".
func normalizeContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx != -1 {
			contentType = contentType[:idx]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// isAllowedResumeType проверяет заявленный тип резюме.
func isAllowedResumeType(contentType string) bool {
	_, ok := allowedResumeTypes[contentType]
	return ok
}

// isAllowedVideoType проверяет заявленный тип видео.
func isAllowedVideoType(contentType string) bool {
	return allowedVideoTypes[contentType]
}

// sniffResume определяет тип содержимого файла по сигнатуре и проверяет,
// что он совместим с заявленным. Возвращает обнаруженный тип.
func sniffResume(path, declared string) (string, bool, error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false, err
	}

	compatible := allowedResumeTypes[declared]
	// Обходим цепочку родителей: docx → zip, doc → x-ole-storage
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range compatible {
			if m.Is(want) {
				return detected.String(), true, nil
			}
		}
	}
	return detected.String(), false, nil
}
