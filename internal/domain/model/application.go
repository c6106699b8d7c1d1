// Пакет model — доменные модели Guide Intake.
// ApplicationRecord — единая структура заявки гида, используется
// как формат записи applications/{id}.json и как тело API-ответа.
package model

import (
	"time"
)

// FileKind — вид прикреплённого к заявке файла.
type FileKind string

const (
	// KindResume — резюме (обязательно)
	KindResume FileKind = "resume"
	// KindVideo — видео-визитка (опционально)
	KindVideo FileKind = "video"
)

// ParseFileKind возвращает FileKind по строке или false для неизвестного вида.
func ParseFileKind(s string) (FileKind, bool) {
	switch FileKind(s) {
	case KindResume, KindVideo:
		return FileKind(s), true
	default:
		return "", false
	}
}

// SocialLinks — ссылки на профили в соцсетях. nil — ссылка не указана.
type SocialLinks struct {
	Facebook  *string `json:"facebook"`
	Instagram *string `json:"instagram"`
	Twitter   *string `json:"twitter"`
	TikTok    *string `json:"tiktok"`
	YouTube   *string `json:"youtube"`
}

// Files — относительные пути сохранённых файлов (от корня хранилища,
// разделитель "/"). Video может быть nil, Resume — никогда.
type Files struct {
	Resume *string `json:"resume"`
	Video  *string `json:"video"`
}

// Attachment — сведения о сохранённом файле.
type Attachment struct {
	// OriginalName — имя файла у отправителя, только для отображения
	OriginalName string `json:"originalName"`
	// ContentType — заявленный MIME-тип без параметров
	ContentType string `json:"contentType"`
	// SizeBytes — размер в байтах
	SizeBytes int64 `json:"sizeBytes"`
	// SHA256 — хэш содержимого
	SHA256 string `json:"sha256"`
}

// Attachments — сведения о файлах по видам.
type Attachments struct {
	Resume *Attachment `json:"resume"`
	Video  *Attachment `json:"video"`
}

// ApplicationRecord — заявка гида. После записи на диск не изменяется.
type ApplicationRecord struct {
	// ID — UUIDv7, сортируется по времени создания
	ID string `json:"id"`
	// SubmittedAt — время приёма заявки сервером (UTC)
	SubmittedAt time.Time `json:"submittedAt"`

	FullName        string  `json:"fullName"`
	Email           string  `json:"email"`
	Phone           *string `json:"phone"`
	Location        *string `json:"location"`
	Languages       *string `json:"languages"`
	ExperienceYears *string `json:"experienceYears"`
	Bio             string  `json:"bio"`
	SocialEmails    *string `json:"socialEmails"`

	SocialLinks SocialLinks `json:"socialLinks"`
	Files       Files       `json:"files"`
	Attachments Attachments `json:"attachments"`
}

// FilePath возвращает относительный путь файла указанного вида или "".
func (a *ApplicationRecord) FilePath(kind FileKind) string {
	var p *string
	switch kind {
	case KindResume:
		p = a.Files.Resume
	case KindVideo:
		p = a.Files.Video
	}
	if p == nil {
		return ""
	}
	return *p
}

// Attachment возвращает сведения о файле указанного вида или nil.
func (a *ApplicationRecord) Attachment(kind FileKind) *Attachment {
	switch kind {
	case KindResume:
		return a.Attachments.Resume
	case KindVideo:
		return a.Attachments.Video
	}
	return nil
}

// Summary строит краткое представление заявки для списка.
func (a *ApplicationRecord) Summary() ApplicationSummary {
	return ApplicationSummary{
		ID:          a.ID,
		SubmittedAt: a.SubmittedAt,
		FullName:    a.FullName,
		Email:       a.Email,
		Location:    a.Location,
		Resume:      a.Files.Resume != nil,
		Video:       a.Files.Video != nil,
	}
}

// ApplicationSummary — элемент списка заявок в админке.
type ApplicationSummary struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submittedAt"`
	FullName    string    `json:"fullName"`
	Email       string    `json:"email"`
	Location    *string   `json:"location"`
	Resume      bool      `json:"resume"`
	Video       bool      `json:"video"`
}
