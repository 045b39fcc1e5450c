package core

import (
	"reflect"
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	// postal codes are stored without the hyphen
	zipCodeTag   = "zipcode"
	zipCodeText  = "{0} must be a 7-digit postal code"
	zipCodeRegex = regexp.MustCompile(`^\d{7}$`)

	// phonetic names, as printed on mailed certificates
	katakanaTag   = "katakana"
	katakanaText  = "{0} must be written in full-width katakana"
	katakanaRegex = regexp.MustCompile(`^[\p{Katakana}ー・ 　]+$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(zipCodeTag, zipCodeValidation)
	RegisterCustomTranslation(validate, translator, zipCodeTag, zipCodeText)

	_ = validate.RegisterValidation(katakanaTag, katakanaValidation)
	RegisterCustomTranslation(validate, translator, katakanaTag, katakanaText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

// notBlankValidation rejects whitespace-only strings.
func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func zipCodeValidation(fl validator.FieldLevel) bool {
	return zipCodeRegex.MatchString(fl.Field().String())
}

// katakanaValidation allows katakana, the prolonged sound mark, the middle dot and spaces.
func katakanaValidation(fl validator.FieldLevel) bool {
	return katakanaRegex.MatchString(fl.Field().String())
}

// CleanZipCode trims a postal code and drops its hyphen ("100-0001" -> "1000001").
func CleanZipCode(zip string) string {
	return strings.ReplaceAll(CleanString(zip), "-", "")
}
