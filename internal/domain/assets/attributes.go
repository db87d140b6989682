package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const (
	MaxNameLen        = 100
	MaxDescriptionLen = 1000
	MaxCustomKeys     = 32
	MaxCustomValueLen = 256
)

var customKeyPattern = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

type BlinkType string

const (
	BlinkStandard BlinkType = "STANDARD"
	BlinkNFT      BlinkType = "NFT"
	BlinkDonation BlinkType = "DONATION"
	BlinkGift     BlinkType = "GIFT"
	BlinkPayment  BlinkType = "PAYMENT"
	BlinkPoll     BlinkType = "POLL"
)

func (t BlinkType) Valid() bool {
	switch t {
	case BlinkStandard, BlinkNFT, BlinkDonation, BlinkGift, BlinkPayment, BlinkPoll:
		return true
	default:
		return false
	}
}

// Attributes is the closed display-metadata schema of an asset.
type Attributes struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image,omitempty"`
	BlinkType   BlinkType         `json:"blink_type"`
	Custom      map[string]Scalar `json:"custom,omitempty"`
}

// AttributesPatch is a partial update. A nil field is left unchanged; a
// custom key mapped to JSON null is removed.
type AttributesPatch struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Image       *string            `json:"image,omitempty"`
	BlinkType   *BlinkType         `json:"blink_type,omitempty"`
	Custom      map[string]*Scalar `json:"custom,omitempty"`
}

func (p AttributesPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Image == nil && p.BlinkType == nil && len(p.Custom) == 0
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid attributes: " + strings.Join(parts, "; ")
}

// ParseAttributes decodes a full attribute document, rejecting unknown keys.
func ParseAttributes(raw []byte) (Attributes, error) {
	var a Attributes
	if err := decodeStrict(raw, &a); err != nil {
		return Attributes{}, err
	}
	return a, nil
}

func ParseAttributesPatch(raw []byte) (AttributesPatch, error) {
	var p AttributesPatch
	if err := decodeStrict(raw, &p); err != nil {
		return AttributesPatch{}, err
	}
	return p, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ValidationErrors{{Field: "attributes", Message: err.Error()}}
	}
	return nil
}

// Normalize trims text fields and defaults the blink type.
func (a Attributes) Normalize() Attributes {
	a.Name = strings.TrimSpace(a.Name)
	a.Description = strings.TrimSpace(a.Description)
	a.Image = strings.TrimSpace(a.Image)
	a.BlinkType = BlinkType(strings.ToUpper(strings.TrimSpace(string(a.BlinkType))))
	if a.BlinkType == "" {
		a.BlinkType = BlinkStandard
	}
	return a
}

func (a Attributes) Validate() error {
	var errs ValidationErrors
	switch n := utf8.RuneCountInString(a.Name); {
	case n == 0:
		errs = append(errs, FieldError{"name", "is required"})
	case n > MaxNameLen:
		errs = append(errs, FieldError{"name", fmt.Sprintf("must be at most %d characters", MaxNameLen)})
	}
	if utf8.RuneCountInString(a.Description) > MaxDescriptionLen {
		errs = append(errs, FieldError{"description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)})
	}
	if a.Image != "" && !isHTTPURL(a.Image) {
		errs = append(errs, FieldError{"image", "must be an absolute http(s) URL"})
	}
	if !a.BlinkType.Valid() {
		errs = append(errs, FieldError{"blink_type", fmt.Sprintf("unsupported type %q", a.BlinkType)})
	}
	if len(a.Custom) > MaxCustomKeys {
		errs = append(errs, FieldError{"custom", fmt.Sprintf("at most %d keys", MaxCustomKeys)})
	}
	keys := make([]string, 0, len(a.Custom))
	for k := range a.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !customKeyPattern.MatchString(k) {
			errs = append(errs, FieldError{"custom." + k, "key must match [a-z0-9_]{1,40}"})
			continue
		}
		if err := a.Custom[k].validate(); err != nil {
			errs = append(errs, FieldError{"custom." + k, err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Apply returns a copy of a with the patch merged in. The result still needs
// Normalize and Validate.
func (a Attributes) Apply(p AttributesPatch) Attributes {
	out := a
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Image != nil {
		out.Image = *p.Image
	}
	if p.BlinkType != nil {
		out.BlinkType = *p.BlinkType
	}
	if len(a.Custom) > 0 || len(p.Custom) > 0 {
		out.Custom = make(map[string]Scalar, len(a.Custom)+len(p.Custom))
		for k, v := range a.Custom {
			out.Custom[k] = v
		}
		for k, v := range p.Custom {
			if v == nil {
				delete(out.Custom, k)
				continue
			}
			out.Custom[k] = *v
		}
		if len(out.Custom) == 0 {
			out.Custom = nil
		}
	}
	return out
}

func (a Attributes) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeStored reads attributes persisted by this service. Empty input yields
// the zero value.
func DecodeStored(raw datatypes.JSON) (Attributes, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Attributes{}, nil
	}
	var a Attributes
	if err := json.Unmarshal(raw, &a); err != nil {
		return Attributes{}, err
	}
	return a, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type scalarKind uint8

const (
	scalarString scalarKind = iota + 1
	scalarNumber
	scalarBool
)

// Scalar is a custom attribute value: a string, a finite number or a bool.
type Scalar struct {
	kind scalarKind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Scalar  { return Scalar{kind: scalarString, str: s} }
func NumberValue(f float64) Scalar { return Scalar{kind: scalarNumber, num: f} }
func BoolValue(b bool) Scalar      { return Scalar{kind: scalarBool, b: b} }

func (s Scalar) IsZero() bool { return s.kind == 0 }

// Value returns the underlying string, float64 or bool.
func (s Scalar) Value() any {
	switch s.kind {
	case scalarString:
		return s.str
	case scalarNumber:
		return s.num
	case scalarBool:
		return s.b
	default:
		return nil
	}
}

func (s Scalar) validate() error {
	switch s.kind {
	case scalarString:
		if utf8.RuneCountInString(s.str) > MaxCustomValueLen {
			return fmt.Errorf("must be at most %d characters", MaxCustomValueLen)
		}
	case scalarNumber:
		if math.IsNaN(s.num) || math.IsInf(s.num, 0) {
			return errors.New("must be a finite number")
		}
	case scalarBool:
	default:
		return errors.New("must be a string, number or bool")
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case scalarString:
		return json.Marshal(s.str)
	case scalarNumber:
		return json.Marshal(s.num)
	case scalarBool:
		return json.Marshal(s.b)
	default:
		return []byte("null"), nil
	}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty custom value")
	}
	switch c := data[0]; {
	case c == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StringValue(v)
	case c == 't' || c == 'f':
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = BoolValue(v)
	case c == '-' || (c >= '0' && c <= '9'):
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = NumberValue(v)
	default:
		return errors.New("custom values must be a string, number or bool")
	}
	return nil
}
