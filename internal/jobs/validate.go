package jobs

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"creatorhub/internal/domain"
	"creatorhub/internal/usage"
)

const (
	maxRefBytes  = 4096
	maxURLBytes  = 2048
	maxTextRunes = 5000
	maxQuantity  = 1000
)

var requiredRefs = map[domain.Provider][]string{
	domain.ProviderCaptioning: {"video_url"},
	domain.ProviderLipSync:    {"video_url", "audio_url"},
	domain.ProviderTTS:        {"text", "voice_id"},
}

type submitFields struct {
	OwnerID        string `validate:"required,max=128"`
	IdempotencyKey string `validate:"required,max=128,idemkey"`
	Quantity       int    `validate:"min=1,max=1000"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("idemkey", func(fl validator.FieldLevel) bool {
		return usage.ValidateKey(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return !hasControl(fl.Field().String())
	})
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return isHTTPURL(fl.Field().String())
	})
	return v
}

// normalizeSubmit validates req and returns it with defaults applied and refs normalised.
func normalizeSubmit(v *validator.Validate, req SubmitRequest) (SubmitRequest, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	provider, ok := domain.ParseProvider(string(req.Provider))
	if !ok {
		return req, domain.Errorf(domain.ErrValidation, "unknown provider %q", req.Provider)
	}
	req.Provider = provider

	if err := v.Struct(submitFields{OwnerID: req.OwnerID, IdempotencyKey: req.IdempotencyKey, Quantity: req.Quantity}); err != nil {
		return req, validationError(err)
	}

	refs := make(map[string]string, len(req.InputRefs))
	for k, val := range req.InputRefs {
		key := strings.TrimSpace(k)
		if key == "" {
			return req, domain.Errorf(domain.ErrValidation, "input ref names must not be empty")
		}
		refs[key] = strings.TrimSpace(val)
	}
	for _, name := range requiredRefs[provider] {
		if refs[name] == "" {
			return req, domain.Errorf(domain.ErrValidation, "input %q is required for %s", name, provider)
		}
	}

	if text, ok := refs["text"]; ok && provider == domain.ProviderTTS {
		text = norm.NFC.String(text)
		if text == "" {
			return req, domain.Errorf(domain.ErrValidation, "input \"text\" must not be empty")
		}
		if n := utf8.RuneCountInString(text); n > maxTextRunes {
			return req, domain.Errorf(domain.ErrValidation, "input \"text\" exceeds %d characters", maxTextRunes)
		}
		refs["text"] = text
	}

	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := refs[name]
		if err := v.Var(value, fmt.Sprintf("max=%d,nocontrol", maxRefBytes)); err != nil {
			return req, domain.Errorf(domain.ErrValidation, "input %q must be at most %d bytes without control characters", name, maxRefBytes)
		}
		if strings.HasSuffix(name, "_url") {
			if err := v.Var(value, fmt.Sprintf("max=%d,httpurl", maxURLBytes)); err != nil {
				return req, domain.Errorf(domain.ErrValidation, "input %q must be an http(s) url of at most %d bytes", name, maxURLBytes)
			}
		}
	}
	req.InputRefs = refs
	return req, nil
}

func validationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		switch fe.Field() {
		case "IdempotencyKey":
			return domain.Errorf(domain.ErrValidation, "idempotency key must be 1-%d printable ascii characters without spaces", usage.MaxKeyLength)
		case "Quantity":
			return domain.Errorf(domain.ErrValidation, "quantity must be between 1 and %d", maxQuantity)
		case "OwnerID":
			return domain.Errorf(domain.ErrValidation, "owner id is required")
		}
		return domain.Errorf(domain.ErrValidation, "validation error: %s - %s", fe.Field(), fe.Tag())
	}
	return domain.Wrap(domain.ErrValidation, err, "invalid request")
}

// hasControl reports control characters other than line breaks and tabs.
func hasControl(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
