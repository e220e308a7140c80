// Package inputval validates decoded request bodies with struct tags and
// reports failures per JSON field, translated to English or Spanish.
package inputval

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	esTranslations "github.com/go-playground/validator/v10/translations/es"
)

// FieldErrors maps a JSON field name to a human-readable problem.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for k, v := range fe {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, "; ")
}

var (
	once     sync.Once
	validate *validator.Validate
	uni      *ut.UniversalTranslator
	initErr  error
)

func setup() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		initErr = err
		return
	}

	enT, esT := en.New(), es.New()
	uni = ut.New(enT, enT, esT)
	enTr, _ := uni.GetTranslator("en")
	esTr, _ := uni.GetTranslator("es")
	if err := enTranslations.RegisterDefaultTranslations(validate, enTr); err != nil {
		initErr = err
		return
	}
	if err := esTranslations.RegisterDefaultTranslations(validate, esTr); err != nil {
		initErr = err
		return
	}
	initErr = registerNotBlank(enTr, "{0} must not be blank")
	if initErr == nil {
		initErr = registerNotBlank(esTr, "{0} no puede estar vacío")
	}
}

func registerNotBlank(tr ut.Translator, text string) error {
	return validate.RegisterTranslation("notblank", tr,
		func(t ut.Translator) error { return t.Add("notblank", text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			msg, err := t.T("notblank", fe.Field())
			if err != nil {
				return fe.Error()
			}
			return msg
		})
}

// Struct validates v. lang is an Accept-Language value; unsupported
// languages fall back to English. A nil return means v is valid.
func Struct(v any, lang string) error {
	once.Do(setup)
	if initErr != nil {
		return initErr
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}

	tr, _ := uni.FindTranslator(languages(lang)...)
	out := make(FieldErrors, len(ves))
	for _, fe := range ves {
		out[fe.Field()] = fe.Translate(tr)
	}
	return out
}

// languages turns "es-AR,es;q=0.9,en;q=0.8" into ["es", "es", "en"].
func languages(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" {
			continue
		}
		out = append(out, strings.ToLower(strings.SplitN(tag, "-", 2)[0]))
	}
	return out
}
