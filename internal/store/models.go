package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Estado is the lifecycle state of a ClaseSession.
type Estado string

const (
	EstadoBorrador        Estado = "borrador"
	EstadoGenerandoClase  Estado = "generando_clase"
	EstadoEditandoGuia    Estado = "editando_guia"
	EstadoClaseProgramada Estado = "clase_programada"
	EstadoCompletada      Estado = "completada"
)

func (e Estado) Valid() bool {
	switch e {
	case EstadoBorrador, EstadoGenerandoClase, EstadoEditandoGuia, EstadoClaseProgramada, EstadoCompletada:
		return true
	default:
		return false
	}
}

type ClaseSession struct {
	ID                   string
	Estado               Estado
	IDGuiaVersionActual  *string
	Tema                 string
	Owner                string
	GeneracionIniciadaEn *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type DocumentKind string

const KindGuiaVersion DocumentKind = "guia_version"

// VersionPayload is what a caller hands the document store on create.
type VersionPayload struct {
	SessionID string
	Author    string
	Content   json.RawMessage
}

// Record is a stored guide version.
type Record struct {
	ID             string
	Kind           DocumentKind
	SessionID      string
	Content        json.RawMessage
	ObjetivosTexto string
	Estructura     json.RawMessage
	Revision       int
	CommitHash     string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type UpdateOptions struct {
	// Silent skips touching the owning session and the write hook.
	Silent bool
	Author string
}

// SearchHit is one row of the full-text fallback.
type SearchHit struct {
	VersionID string
	SessionID string
	Titulo    string
	Snippet   string
}
