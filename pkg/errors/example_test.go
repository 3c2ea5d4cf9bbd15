// Package errors provides examples of structured error handling in profilesync.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeQuota, "write requests per minute exceeded").
		WithDetail("tab", "Profiles").
		WithDetail("attempt", 2)

	fmt.Println(err.Error())

	// Output:
	// quota: write requests per minute exceeded
}

// ExampleWrap shows how backend failures are wrapped with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeTransient, "values.get Profiles!A1:Z").
		WithDetail("spreadsheet", "sheet-123")

	fmt.Println(err)
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// transient: values.get Profiles!A1:Z: unexpected EOF
	// true
}

// ExampleIsType demonstrates that IsType inspects the whole chain.
func ExampleIsType() {
	quota := errors.New(errors.ErrorTypeQuota, "quota exceeded")
	wrapped := errors.Wrap(quota, errors.ErrorTypeStructural, "move row 5 to 2")

	fmt.Printf("outer is structural: %v\n", errors.IsType(wrapped, errors.ErrorTypeStructural))
	fmt.Printf("chain carries quota: %v\n", errors.IsQuota(wrapped))
	fmt.Printf("validation: %v\n", errors.IsType(wrapped, errors.ErrorTypeValidation))

	// Output:
	// outer is structural: true
	// chain carries quota: true
	// validation: false
}

// ExampleIsRetryable shows which error types the writer may retry.
func ExampleIsRetryable() {
	for _, err := range []error{
		errors.New(errors.ErrorTypeQuota, "quota"),
		errors.New(errors.ErrorTypeTransient, "502 bad gateway"),
		errors.New(errors.ErrorTypeValidation, "nickname is blank"),
		fmt.Errorf("plain error"),
	} {
		fmt.Printf("%-40v retryable=%v\n", err, errors.IsRetryable(err))
	}

	// Output:
	// quota: quota                             retryable=true
	// transient: 502 bad gateway               retryable=true
	// validation: nickname is blank            retryable=false
	// plain error                              retryable=false
}
