// Package storeerror provides the structured error type storage reports use.
//
// A StoreError carries a category from a fixed taxonomy, free-form context for
// logs and YAML attachments (entity and storage dumps) for diagnostics.
package storeerror

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/entitystore/errors"
)

// Attachment is a named YAML document attached to an error.
type Attachment struct {
	Name    string
	Content string
}

// StoreError represents an error in the storage with structured context
type StoreError struct {
	Err         error                  // Underlying error
	Category    Category               // Main category
	Subcategory string                 // Optional subcategory
	ReportID    string                 // Set when the error was reported
	Context     map[string]interface{} // Additional context for debugging
	Attachments []Attachment           // Dumps attached for diagnostics
	Timestamp   time.Time              // When the error occurred
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category)
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *StoreError) Unwrap() error {
	return e.Err
}

// New creates a new StoreError wrapping err
func New(category Category, err error) *StoreError {
	return &StoreError{
		Err:       err,
		Category:  category,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// Newf creates a new StoreError with a formatted error message
func Newf(category Category, format string, args ...interface{}) *StoreError {
	return New(category, errors.Newf(format, args...))
}

// WithSubcategory adds a subcategory to the error
func (e *StoreError) WithSubcategory(sub string) *StoreError {
	e.Subcategory = sub
	return e
}

// WithContext adds a context key-value pair for debugging
func (e *StoreError) WithContext(key string, value interface{}) *StoreError {
	e.Context[key] = value
	return e
}

// WithContextMap adds multiple context key-value pairs
func (e *StoreError) WithContextMap(ctx map[string]interface{}) *StoreError {
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e
}

// WithAttachment marshals v to YAML and attaches it. Marshal failures are
// attached as the error text so a report is never lost.
func (e *StoreError) WithAttachment(name string, v interface{}) *StoreError {
	out, err := yaml.Marshal(v)
	content := string(out)
	if err != nil {
		content = "# marshal failed: " + err.Error() + "\n"
	}
	e.Attachments = append(e.Attachments, Attachment{Name: name, Content: content})
	return e
}

// ToLogFields converts error to structured log fields
// This is useful for passing to logger.Errorw()
func (e *StoreError) ToLogFields() []interface{} {
	fields := []interface{}{
		"error_category", string(e.Category),
		"error_message", e.Error(),
	}

	if e.Subcategory != "" {
		fields = append(fields, "error_subcategory", e.Subcategory)
	}
	if e.ReportID != "" {
		fields = append(fields, "report_id", e.ReportID)
	}

	for k, v := range e.Context {
		fields = append(fields, k, v)
	}

	if len(e.Attachments) > 0 {
		names := make([]string, len(e.Attachments))
		for i, a := range e.Attachments {
			names[i] = a.Name
		}
		fields = append(fields, "attachments", names)
	}

	return fields
}

// IsCategory checks if the error matches a specific category
func (e *StoreError) IsCategory(cat Category) bool {
	return e.Category == cat
}

// IsSubcategory checks if the error matches a specific subcategory
func (e *StoreError) IsSubcategory(sub string) bool {
	return e.Subcategory == sub
}

// CategoryOf returns the category of the first StoreError in err's chain.
func CategoryOf(err error) (Category, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category, true
	}
	return "", false
}

// HasCategory reports whether err's chain holds a StoreError of cat.
func HasCategory(err error, cat Category) bool {
	c, ok := CategoryOf(err)
	return ok && c == cat
}
