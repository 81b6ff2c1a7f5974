package model

import (
	"fmt"
	"time"
)

// Scaling — масштаб backend-а.
type Scaling string

const (
	ScalingLocal  Scaling = "LOCAL"
	ScalingGlobal Scaling = "GLOBAL"
)

// BackendRecord — ALBA backend в ответе сервера (alba/backends/{guid}).
type BackendRecord struct {
	GUID    string         `json:"guid"`
	AlbaID  string         `json:"alba_id"`
	Name    string         `json:"name"`
	Scaling Scaling        `json:"scaling"`
	Presets []PresetRecord `json:"presets,omitempty"`
	Usages  *BackendUsage  `json:"usages,omitempty"`
}

// BackendUsage — суммарное использование backend-а в байтах.
type BackendUsage struct {
	Size int64 `json:"size"`
	Used int64 `json:"used"`
	Free int64 `json:"free"`
}

// PolicyMetadata — флаги политики в ответе сервера.
type PolicyMetadata struct {
	IsAvailable bool `json:"is_available"`
	IsActive    bool `json:"is_active"`
	InUse       bool `json:"in_use"`
}

// PresetRecord — пресет в ответе сервера.
// PolicyMetadata индексирована строкой вида "(k, m, c, x)".
type PresetRecord struct {
	Name           string                    `json:"name"`
	Policies       [][4]int                  `json:"policies"`
	PolicyMetadata map[string]PolicyMetadata `json:"policy_metadata,omitempty"`
	InUse          bool                      `json:"in_use"`
	IsDefault      bool                      `json:"is_default"`
	IsAvailable    bool                      `json:"is_available"`
}

// BackendRef — краткая ссылка на backend (для реестра чужих backend-ов).
type BackendRef struct {
	GUID   string `json:"guid"`
	AlbaID string `json:"alba_id"`
	Name   string `json:"name"`
}

// Backend — backend, для которого строится топология.
type Backend struct {
	GUID    string
	AlbaID  string
	Name    string
	Scaling Scaling
	Presets []Preset
	Usage   BackendUsage
}

// NewBackend строит backend из ответа сервера.
func NewBackend(rec BackendRecord) *Backend {
	b := &Backend{
		GUID:    rec.GUID,
		AlbaID:  rec.AlbaID,
		Name:    rec.Name,
		Scaling: rec.Scaling,
	}
	if rec.Usages != nil {
		b.Usage = *rec.Usages
	}
	for _, p := range rec.Presets {
		b.Presets = append(b.Presets, NewPreset(p))
	}
	return b
}

// Ref возвращает краткую ссылку на backend.
func (b *Backend) Ref() BackendRef {
	return BackendRef{GUID: b.GUID, AlbaID: b.AlbaID, Name: b.Name}
}

// Color — цвет политики или пресета. Порядок значений задаёт серьёзность.
type Color int

const (
	ColorGrey Color = iota
	ColorBlack
	ColorGreen
)

// String возвращает название цвета.
func (c Color) String() string {
	switch c {
	case ColorBlack:
		return "black"
	case ColorGreen:
		return "green"
	default:
		return "grey"
	}
}

// MarshalText сериализует цвет его названием.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Policy — политика erasure coding (k, m, c, x).
type Policy struct {
	K, M, C, X int
	Available  bool
	Active     bool
	InUse      bool
}

// Key возвращает ключ политики в формате policy_metadata.
func (p Policy) Key() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", p.K, p.M, p.C, p.X)
}

// Color: недоступна — grey, доступна — black, активна или используется — green.
func (p Policy) Color() Color {
	switch {
	case !p.Available:
		return ColorGrey
	case p.Active || p.InUse:
		return ColorGreen
	default:
		return ColorBlack
	}
}

// Preset — именованный набор политик backend-а.
type Preset struct {
	Name        string
	Policies    []Policy
	InUse       bool
	IsDefault   bool
	IsAvailable bool
}

// NewPreset строит пресет, сопоставляя политики с их метаданными.
func NewPreset(rec PresetRecord) Preset {
	p := Preset{
		Name:        rec.Name,
		InUse:       rec.InUse,
		IsDefault:   rec.IsDefault,
		IsAvailable: rec.IsAvailable,
	}
	for _, raw := range rec.Policies {
		pol := Policy{K: raw[0], M: raw[1], C: raw[2], X: raw[3]}
		if meta, ok := rec.PolicyMetadata[pol.Key()]; ok {
			pol.Available = meta.IsAvailable
			pol.Active = meta.IsActive
			pol.InUse = meta.InUse
		}
		p.Policies = append(p.Policies, pol)
	}
	return p
}

// Color возвращает максимальный цвет среди политик пресета.
func (p Preset) Color() Color {
	c := ColorGrey
	for _, pol := range p.Policies {
		c = max(c, pol.Color())
	}
	return c
}

// IsReplication — пресет чистой репликации:
// ровно одна политика с k=1, c=1 и k+m=x.
func (p Preset) IsReplication() bool {
	if len(p.Policies) != 1 {
		return false
	}
	pol := p.Policies[0]
	return pol.K == 1 && pol.C == 1 && pol.K+pol.M == pol.X
}

// ReplicationFactor возвращает k+m для пресета репликации, иначе 0.
func (p Preset) ReplicationFactor() int {
	if !p.IsReplication() {
		return 0
	}
	return p.Policies[0].K + p.Policies[0].M
}

// Safety — результат calculate_safety: число namespace-ов,
// которые останутся в норме, станут критичными или будут потеряны.
type Safety struct {
	Good       int       `json:"good"`
	Critical   int       `json:"critical"`
	Lost       int       `json:"lost"`
	ComputedAt time.Time `json:"computed_at"`
}

// Stale — результат старше maxAge на момент now.
func (s Safety) Stale(now time.Time, maxAge time.Duration) bool {
	return s.ComputedAt.IsZero() || now.Sub(s.ComputedAt) > maxAge
}
