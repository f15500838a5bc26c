package guide

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// PathKind names one editable site of a guide. Kinds that address list
// entries use FieldPath.Index, and subphase kinds also use FieldPath.Sub.
type PathKind string

const (
	PathTitulo   PathKind = "titulo"
	PathNivel    PathKind = "nivel"
	PathGrado    PathKind = "grado"
	PathArea     PathKind = "area"
	PathDuracion PathKind = "duracion"

	PathSituacionTexto    PathKind = "situacion_texto"
	PathSituacionContexto PathKind = "situacion_contexto"
	PathSituacionReto     PathKind = "situacion_reto"
	PathSituacionProducto PathKind = "situacion_producto"

	PathPropositoCompetencia PathKind = "proposito_competencia"
	PathPropositoCapacidades PathKind = "proposito_capacidades"
	PathPropositoCriterios   PathKind = "proposito_criterios"
	PathPropositoEvidencia   PathKind = "proposito_evidencia"
	PathPropositoInstrumento PathKind = "proposito_instrumento"

	PathEnfoqueNombre      PathKind = "enfoque_nombre"
	PathEnfoqueDescripcion PathKind = "enfoque_descripcion"

	PathPreparacionAntes      PathKind = "preparacion_antes"
	PathPreparacionMateriales PathKind = "preparacion_materiales"

	PathFaseDuracion              PathKind = "fase_duracion"
	PathFaseActividades           PathKind = "fase_actividades"
	PathFaseObjetivo              PathKind = "fase_objetivo"
	PathFaseActividadesDocente    PathKind = "fase_actividades_docente"
	PathFaseActividadesEstudiante PathKind = "fase_actividades_estudiante"
	PathFaseMetodologia           PathKind = "fase_metodologia"

	PathSubfaseNombre   PathKind = "subfase_nombre"
	PathSubfaseDuracion PathKind = "subfase_duracion"
	PathSubfaseGuion    PathKind = "subfase_guion"
	PathSubfaseProducto PathKind = "subfase_producto"

	PathAdaptacionesEstrategia PathKind = "adaptaciones_estrategia"
	PathAdaptacionesApoyo      PathKind = "adaptaciones_apoyo"
	PathAdaptacionesExtension  PathKind = "adaptaciones_extension"
	PathAdaptacionesRecursos   PathKind = "adaptaciones_recursos"
)

// FieldPath addresses a single replaceable value in a SessionGuide.
type FieldPath struct {
	Kind  PathKind `json:"kind"`
	Index int      `json:"index,omitempty"`
	Sub   int      `json:"sub,omitempty"`
}

func (p FieldPath) String() string {
	switch {
	case strings.HasPrefix(string(p.Kind), "subfase_"):
		return fmt.Sprintf("%s[%d][%d]", p.Kind, p.Index, p.Sub)
	case strings.HasPrefix(string(p.Kind), "proposito_"),
		strings.HasPrefix(string(p.Kind), "enfoque_"),
		strings.HasPrefix(string(p.Kind), "fase_"):
		return fmt.Sprintf("%s[%d]", p.Kind, p.Index)
	default:
		return string(p.Kind)
	}
}

var (
	ErrInvalidPath  = errors.New("invalid field path")
	ErrInvalidValue = errors.New("invalid field value")
)

type PathError struct {
	Path FieldPath
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Apply returns a copy of g with the value at path replaced. g is not
// modified; slices outside the edited branch are shared with the result.
func Apply(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	out, err := apply(g, path, value)
	if err != nil {
		return g, &PathError{Path: path, Err: err}
	}
	return out, nil
}

func apply(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	switch path.Kind {
	case PathTitulo:
		return setString(g, value, func(g *SessionGuide, v string) { g.Titulo = v })
	case PathNivel:
		return setString(g, value, func(g *SessionGuide, v string) { g.Nivel = v })
	case PathGrado:
		return setString(g, value, func(g *SessionGuide, v string) { g.Grado = v })
	case PathArea:
		return setString(g, value, func(g *SessionGuide, v string) { g.Area = v })
	case PathDuracion:
		return setString(g, value, func(g *SessionGuide, v string) { g.Duracion = v })

	case PathSituacionTexto:
		return setString(g, value, func(g *SessionGuide, v string) { g.SituacionSignificativa.Texto = v })
	case PathSituacionContexto:
		return setString(g, value, func(g *SessionGuide, v string) { g.SituacionSignificativa.Contexto = v })
	case PathSituacionReto:
		return setString(g, value, func(g *SessionGuide, v string) { g.SituacionSignificativa.Reto = v })
	case PathSituacionProducto:
		return setString(g, value, func(g *SessionGuide, v string) { g.SituacionSignificativa.Producto = v })

	case PathPropositoCompetencia, PathPropositoCapacidades, PathPropositoCriterios,
		PathPropositoEvidencia, PathPropositoInstrumento:
		return applyPurpose(g, path, value)

	case PathEnfoqueNombre, PathEnfoqueDescripcion:
		return applyApproach(g, path, value)

	case PathPreparacionAntes:
		return setString(g, value, func(g *SessionGuide, v string) { g.Preparacion.AntesSesion = v })
	case PathPreparacionMateriales:
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		g.Preparacion.Materiales = list
		return g, nil

	case PathFaseDuracion, PathFaseActividades, PathFaseObjetivo, PathFaseActividadesDocente,
		PathFaseActividadesEstudiante, PathFaseMetodologia:
		return applyPhase(g, path, value)

	case PathSubfaseNombre, PathSubfaseDuracion, PathSubfaseGuion, PathSubfaseProducto:
		return applySubphase(g, path, value)

	case PathAdaptacionesEstrategia, PathAdaptacionesApoyo, PathAdaptacionesExtension, PathAdaptacionesRecursos:
		return applyAdaptations(g, path, value)
	}
	return g, fmt.Errorf("%w: unknown kind %q", ErrInvalidPath, path.Kind)
}

func setString(g SessionGuide, value any, set func(*SessionGuide, string)) (SessionGuide, error) {
	text, err := asString(value)
	if err != nil {
		return g, err
	}
	set(&g, text)
	return g, nil
}

func applyPurpose(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	if path.Index < 0 || path.Index >= len(g.Propositos) {
		return g, fmt.Errorf("%w: purpose index %d out of range", ErrInvalidPath, path.Index)
	}
	purpose := g.Propositos[path.Index]
	switch path.Kind {
	case PathPropositoCompetencia, PathPropositoEvidencia, PathPropositoInstrumento:
		text, err := asString(value)
		if err != nil {
			return g, err
		}
		switch path.Kind {
		case PathPropositoCompetencia:
			purpose.Competencia = text
		case PathPropositoEvidencia:
			purpose.Evidencia = text
		default:
			purpose.Instrumento = text
		}
	case PathPropositoCapacidades:
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		purpose.Capacidades = list
	case PathPropositoCriterios:
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		if len(list) == 0 {
			return g, fmt.Errorf("%w: criterios_evaluacion must not be empty", ErrInvalidValue)
		}
		for i, criterion := range list {
			if strings.TrimSpace(criterion) == "" {
				return g, fmt.Errorf("%w: criterio %d is blank", ErrInvalidValue, i)
			}
		}
		purpose.CriteriosEvaluacion = list
	}
	g.Propositos = slices.Clone(g.Propositos)
	g.Propositos[path.Index] = purpose
	return g, nil
}

func applyApproach(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	if path.Index < 0 || path.Index >= len(g.Enfoques) {
		return g, fmt.Errorf("%w: approach index %d out of range", ErrInvalidPath, path.Index)
	}
	text, err := asString(value)
	if err != nil {
		return g, err
	}
	approach := g.Enfoques[path.Index]
	if path.Kind == PathEnfoqueNombre {
		approach.Nombre = text
	} else {
		if strings.TrimSpace(text) == "" {
			return g, fmt.Errorf("%w: descripcion must not be empty", ErrInvalidValue)
		}
		approach.Descripcion = text
	}
	g.Enfoques = slices.Clone(g.Enfoques)
	g.Enfoques[path.Index] = approach
	return g, nil
}

func applyPhase(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	if path.Index < 0 || path.Index >= len(g.Fases) {
		return g, fmt.Errorf("%w: phase index %d out of range", ErrInvalidPath, path.Index)
	}
	phase := g.Fases[path.Index]
	switch path.Kind {
	case PathFaseActividadesDocente, PathFaseActividadesEstudiante:
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		if path.Kind == PathFaseActividadesDocente {
			phase.ActividadesDocente = list
		} else {
			phase.ActividadesEstudiante = list
		}
	default:
		text, err := asString(value)
		if err != nil {
			return g, err
		}
		switch path.Kind {
		case PathFaseDuracion:
			phase.Duracion = text
		case PathFaseActividades:
			phase.Actividades = text
		case PathFaseObjetivo:
			phase.Objetivo = text
		case PathFaseMetodologia:
			phase.MetodologiaActiva = text
		}
	}
	g.Fases = slices.Clone(g.Fases)
	g.Fases[path.Index] = phase
	return g, nil
}

func applySubphase(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	if path.Index < 0 || path.Index >= len(g.Fases) {
		return g, fmt.Errorf("%w: phase index %d out of range", ErrInvalidPath, path.Index)
	}
	phase := g.Fases[path.Index]
	if path.Sub < 0 || path.Sub >= len(phase.Subfases) {
		return g, fmt.Errorf("%w: subphase index %d out of range", ErrInvalidPath, path.Sub)
	}
	sub := phase.Subfases[path.Sub]
	if path.Kind == PathSubfaseGuion {
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		sub.Guion = list
	} else {
		text, err := asString(value)
		if err != nil {
			return g, err
		}
		switch path.Kind {
		case PathSubfaseNombre:
			sub.Nombre = text
		case PathSubfaseDuracion:
			sub.Duracion = text
		case PathSubfaseProducto:
			sub.ProductoParcial = text
		}
	}
	phase.Subfases = slices.Clone(phase.Subfases)
	phase.Subfases[path.Sub] = sub
	g.Fases = slices.Clone(g.Fases)
	g.Fases[path.Index] = phase
	return g, nil
}

func applyAdaptations(g SessionGuide, path FieldPath, value any) (SessionGuide, error) {
	var next Adaptations
	if g.Adaptaciones != nil {
		next = *g.Adaptaciones
	}
	if path.Kind == PathAdaptacionesEstrategia {
		text, err := asString(value)
		if err != nil {
			return g, err
		}
		next.EstrategiaGeneral = text
	} else {
		list, err := asStrings(value)
		if err != nil {
			return g, err
		}
		switch path.Kind {
		case PathAdaptacionesApoyo:
			next.ApoyoAdicional = list
		case PathAdaptacionesExtension:
			next.ExtensionAvanzada = list
		case PathAdaptacionesRecursos:
			next.RecursosApoyo = list
		}
	}
	g.Adaptaciones = &next
	return g, nil
}

func asString(value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: want string, got %T", ErrInvalidValue, value)
	}
	return text, nil
}

// asStrings accepts []string or a decoded JSON array of strings.
func asStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is %T, want string", ErrInvalidValue, i, item)
			}
			out = append(out, text)
		}
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("%w: want list of strings, got %T", ErrInvalidValue, value)
	}
}
