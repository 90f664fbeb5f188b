package errs

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	translator, _ = uni.GetTranslator("en")
	_ = entrans.RegisterDefaultTranslations(validate, translator)
}

// Check validates a request value against its struct `validate` tags and
// returns an InvalidArgument error describing every failed field.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {
		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return New(InvalidArgument, err)
		}

		msg := ""
		for i, fe := range verrors {
			if i > 0 {
				msg += "; "
			}
			msg += fe.Translate(translator)
		}
		return Newf(InvalidArgument, "%s", msg)
	}
	return nil
}
