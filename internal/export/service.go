package export

import (
	"context"
	"fmt"
	"time"

	"guias/api/internal/guide"
	"guias/api/internal/platform/logger"
	"guias/api/internal/store"
)

type VersionLoader interface {
	Get(ctx context.Context, id string) (store.Record, error)
}

type DOCXRenderer interface {
	RenderDOCX(ctx context.Context, html string) ([]byte, error)
}

// Service renders guide versions. uploader may be nil.
type Service struct {
	versions VersionLoader
	pdf      PDFRenderer
	docx     DOCXRenderer
	uploader Uploader
	log      *logger.Logger
	now      func() time.Time
}

func NewService(versions VersionLoader, pdf PDFRenderer, docx DOCXRenderer, uploader Uploader, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{versions: versions, pdf: pdf, docx: docx, uploader: uploader, log: log, now: time.Now}
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	rec, err := s.versions.Get(ctx, req.VersionID)
	if err != nil {
		return nil, fmt.Errorf("load guide version: %w", err)
	}
	doc, err := guide.Decode(rec.Content)
	if err != nil {
		return nil, err
	}
	html, err := RenderGuideHTML(TemplateData{Guide: doc, Revision: rec.Revision, GeneratedAt: s.now()})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(doc.Titulo)
	var result *Result
	switch req.Format {
	case FormatHTML:
		result = &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}
	case FormatPDF, "":
		if s.pdf == nil {
			return nil, fmt.Errorf("%w: no pdf renderer", ErrPDFDependencyMissing)
		}
		data, err := s.pdf.RenderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: data, Filename: base + ".pdf", MimeType: "application/pdf"}
	case FormatDOCX:
		if s.docx == nil {
			return nil, fmt.Errorf("%w: no docx renderer", ErrDOCXDependencyMissing)
		}
		data, err := s.docx.RenderDOCX(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{
			Data:     data,
			Filename: base + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Upload && s.uploader != nil {
		key := fmt.Sprintf("guias/%s/%s-r%d-%s", rec.SessionID, rec.ID, rec.Revision, result.Filename)
		if err := s.uploader.Put(ctx, key, result.Data, result.MimeType); err != nil {
			s.log.Warn("export: upload failed", "version_id", rec.ID, "key", key, "error", err)
		} else {
			result.ObjectKey = key
		}
	}
	return result, nil
}
