package attachments

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type collectionShape struct {
	BaseURL string       `validate:"required,url"`
	Items   []Descriptor `validate:"dive"`
}

// Validate checks the collection strictly: an absolute base URL and, for every
// descriptor, a name and non-negative id and size. Construction never calls it.
func (c *Collection) Validate() error {
	if err := validate.Struct(collectionShape{BaseURL: c.baseURL, Items: c.items}); err != nil {
		return fmt.Errorf("attachments: invalid collection: %w", err)
	}
	return nil
}
