package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"localchat/pkg/types"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// chatParams carries the generation parameters of a chat as a client may
// set them.
type chatParams struct {
	Name        string  `validate:"max=200"`
	Temperature float32 `validate:"gte=0"`
	MinP        float32 `validate:"gte=0,lte=1"`
	ContextSize int     `validate:"gte=0"`
	LLMModelID  int64   `validate:"gte=-1"`
}

var fieldMessages = map[string]string{
	"Name":        "name must be at most 200 characters",
	"Temperature": "temperature must be >= 0",
	"MinP":        "min_p must be within [0, 1]",
	"ContextSize": "context_size must be >= 0",
	"LLMModelID":  "invalid llm_model_id",
}

func validateChat(c types.Chat) error {
	return validateStruct(chatParams{
		Name:        c.Name,
		Temperature: c.Temperature,
		MinP:        c.MinP,
		ContextSize: c.ContextSize,
		LLMModelID:  c.LLMModelID,
	})
}

// validateStruct runs tag validation and folds failures into one 400 error.
func validateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if m, ok := fieldMessages[fe.Field()]; ok {
			msgs = append(msgs, m)
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return badRequest(strings.Join(msgs, "; "))
}
