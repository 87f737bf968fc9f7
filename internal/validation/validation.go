package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
)

var validate = validator.New()

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrInvalidCoordinates is returned for a latitude or longitude out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrInvalidParameter is returned for any other malformed query parameter.
var ErrInvalidParameter = errors.New("invalid parameter")

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes)
// and restricts it to letters, digits, space, comma, hyphen, period and apostrophe.
// Lower-casing is left to the service layer.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

type coordinates struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

// ValidateCoordinates checks a latitude/longitude pair.
func ValidateCoordinates(lat, lng float64) error {
	if err := validate.Struct(coordinates{Lat: lat, Lng: lng}); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinates, describe(err))
	}
	return nil
}

// ValidateBounds checks every corner of a bounding box.
func ValidateBounds(b client.Bounds) error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinates, describe(err))
	}
	return nil
}

type forecastQuery struct {
	Pollutant string `validate:"required,alphanum,max=10"`
	Days      int    `validate:"oneof=7 30"`
}

// ValidateForecast checks the pollutant code and the horizon in days (7 or 30).
func ValidateForecast(pollutant string, days int) error {
	if err := validate.Struct(forecastQuery{Pollutant: pollutant, Days: days}); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, describe(err))
	}
	return nil
}

// ValidatePollutant checks a pollutant code such as pm25 or no2.
func ValidatePollutant(code string) error {
	if err := validate.Var(code, "required,alphanum,max=10"); err != nil {
		return fmt.Errorf("%w: pollutant: %s", ErrInvalidParameter, describe(err))
	}
	return nil
}

// ValidateLimit checks a page size in [1, max].
func ValidateLimit(limit, max int) error {
	if err := validate.Var(limit, fmt.Sprintf("min=1,max=%d", max)); err != nil {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidParameter, max)
	}
	return nil
}

// describe flattens validator errors into "Field failed 'tag'" phrases.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if field == "" {
			field = "value"
		}
		parts = append(parts, fmt.Sprintf("%s failed '%s'", field, fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
