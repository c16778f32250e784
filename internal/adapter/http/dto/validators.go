package dto

import (
	"errors"
	"html"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/pkg/money"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// maxAmountScale matches the NUMERIC(19,4) amount columns.
const maxAmountScale = 4

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// fieldMessages turns validator tags into client-facing messages.
var fieldMessages = map[string]string{
	"required":          "is required",
	"uuid":              "must be a UUID",
	"email":             "must be an email address",
	"e164":              "must be an E.164 phone number",
	"safe_id":           "may contain only letters, digits, '_', '-' and '.'",
	"safe_url":          "must be an http(s) URL",
	"currency_code":     "must be a supported ISO-4217 currency code",
	"redemption_method": "must be one of QR_CODE, CODE_ENTRY, LINK, API",
	"payment_method":    "must be one of STRIPE, PAYPAL, RAZORPAY, UPI",
	"gift_card_code":    "must look like GC-XXXX-XXXX-XXXX",
	"money":             "must be a positive amount with at most 4 decimal places",
	"numeric":           "must contain only digits",
	"oneof":             "has an unsupported value",
	"len":               "has the wrong length",
	"min":               "is too short",
	"max":               "is too long",
}

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(jsonFieldName)
	// decimals validate as their canonical string
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("safe_id", validateSafeID)
	_ = v.RegisterValidation("safe_url", validateSafeURL)
	_ = v.RegisterValidation("currency_code", validateCurrencyCode)
	_ = v.RegisterValidation("redemption_method", validateRedemptionMethod)
	_ = v.RegisterValidation("payment_method", validatePaymentMethod)
	_ = v.RegisterValidation("gift_card_code", validateGiftCardCode)
	_ = v.RegisterValidation("money", validateMoney)
}

// FieldErrors maps each failing JSON field to a readable message.
// It returns nil when err is not a validation error.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		out[fe.Field()] = msg
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateSafeURL accepts absolute http(s) URLs only; empty passes so the
// tag composes with omitempty.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateCurrencyCode(fl validator.FieldLevel) bool {
	return money.ValidCurrency(strings.ToUpper(fl.Field().String()))
}

func validateRedemptionMethod(fl validator.FieldLevel) bool {
	return domain.RedemptionMethod(fl.Field().String()).IsValid()
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	_, ok := domain.GatewayForMethod(domain.PaymentMethod(fl.Field().String()))
	return ok
}

func validateGiftCardCode(fl validator.FieldLevel) bool {
	return domain.ValidCardCode(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
}

func validateMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && -d.Exponent() <= maxAmountScale
}

// SanitizeStruct trims whitespace and HTML-escapes every settable string
// field (including *string) of a struct pointer. Fields tagged
// `sanitize:"-"` are left untouched.
func SanitizeStruct(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() || rv.Type().Field(i).Tag.Get("sanitize") == "-" {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if !f.IsNil() && f.Elem().Kind() == reflect.String {
				f.Elem().SetString(sanitize(f.Elem().String()))
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
