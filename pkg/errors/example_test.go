// Package errors provides examples of structured error handling in pgcdc.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to database")

	// Add context details
	err = err.WithDetail("host", "localhost").
		WithDetail("port", 5432).
		WithDetail("database", "orders")

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to database
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.EOF

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeData, "failed to decode replication payload").
		WithDetail("format", "wal2json").
		WithDetail("lsn", "0/16B2D80")

	// Check the error type
	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("This is a data error")
	}

	// Access the original error using Go's standard errors.Is
	if originalErr == io.EOF {
		fmt.Println("Original error was EOF")
	}

	// Output:
	// This is a data error
	// Original error was EOF
}

// ExampleErrorType demonstrates using different error types.
func ExampleErrorType() {
	// Connection error
	connErr := errors.New(errors.ErrorTypeConnection, "connection refused")
	fmt.Printf("Connection error: %v\n", connErr)

	// Validation error
	valErr := errors.New(errors.ErrorTypeValidation, "invalid buffer size").
		WithDetail("value", -1).
		WithDetail("min", 1).
		WithDetail("max", 100000)
	fmt.Printf("Validation error: %v\n", valErr)

	// Parse error
	parseErr := errors.New(errors.ErrorTypeParse, "unsupported type descriptor").
		WithDetail("column", "geom").
		WithDetail("type", "not a valid type (")
	fmt.Printf("Parse error: %v\n", parseErr)

	// Output:
	// Connection error: connection: connection refused
	// Validation error: validation: invalid buffer size
	// Parse error: parse: unsupported type descriptor
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	// Create different types of errors
	tempErr := errors.New(errors.ErrorTypeTimeout, "replication stream stalled")
	fatalErr := errors.New(errors.ErrorTypeParse, "malformed column type")

	// Check if errors are retryable
	if errors.IsRetryable(tempErr) {
		fmt.Println("Timeout error is retryable")
	}

	if !errors.IsRetryable(fatalErr) {
		fmt.Println("Parse error is not retryable")
	}

	// Output:
	// Timeout error is retryable
	// Parse error is not retryable
}

// Example_errorChain shows how to chain multiple error contexts.
func Example_errorChain() {
	// Simulate a chain of operations that can fail
	err := connectToDatabase()
	if err != nil {
		// Wrap with additional context at each level
		err = errors.Wrap(err, errors.ErrorTypeQuery, "failed to load table schemas").
			WithDetail("schema", "public")

		err = errors.Wrap(err, errors.ErrorTypeInternal, "replication startup failed").
			WithDetail("slot", "pgcdc_slot")

		fmt.Println("Full error chain:", err)
	}

	// Output:
	// Full error chain: internal: replication startup failed: query: failed to load table schemas: connection: connection timeout
}

// connectToDatabase simulates a database connection error
func connectToDatabase() error {
	return errors.New(errors.ErrorTypeConnection, "connection timeout").
		WithDetail("host", "db.example.com").
		WithDetail("port", 5432)
}

// ExampleIsType demonstrates checking error types.
func ExampleIsType() {
	// Create errors of different types
	connErr := errors.New(errors.ErrorTypeConnection, "connection failed")
	unknownErr := errors.New(errors.ErrorTypeUnknownType, "no OID mapping for type")

	// Wrap an error
	wrappedErr := errors.Wrap(connErr, errors.ErrorTypeData, "processing failed")

	// Check error types
	fmt.Printf("Is connection error: %v\n", errors.IsType(connErr, errors.ErrorTypeConnection))
	fmt.Printf("Is unknown type error: %v\n", errors.IsType(unknownErr, errors.ErrorTypeUnknownType))

	// IsType matches the outermost structured error
	fmt.Printf("Wrapped error is data type: %v\n", errors.IsType(wrappedErr, errors.ErrorTypeData))
	fmt.Printf("Wrapped error contains connection type: %v\n", errors.IsType(wrappedErr, errors.ErrorTypeConnection))

	// Output:
	// Is connection error: true
	// Is unknown type error: true
	// Wrapped error is data type: true
	// Wrapped error contains connection type: false
}

// Example_customErrorHandling shows how to implement custom error handling logic.
func Example_customErrorHandling() {
	// Define a custom error handler
	handleError := func(err error) {
		if err == nil {
			return
		}

		// Extract error details
		if typedErr, ok := err.(*errors.Error); ok {
			fmt.Printf("Error Type: %s\n", typedErr.Type)
			fmt.Printf("Message: %s\n", typedErr.Message)

			if len(typedErr.Details) > 0 {
				fmt.Println("Details:")
				// Print details in a deterministic order
				if column, ok := typedErr.Details["column"]; ok {
					fmt.Printf("  column: %v\n", column)
				}
				if typ, ok := typedErr.Details["type"]; ok {
					fmt.Printf("  type: %v\n", typ)
				}
			}
		}
	}

	// Create and handle an error
	err := errors.New(errors.ErrorTypeParse, "unsupported type descriptor").
		WithDetail("column", "region").
		WithDetail("type", "geometry(")

	handleError(err)

	// Output:
	// Error Type: parse
	// Message: unsupported type descriptor
	// Details:
	//   column: region
	//   type: geometry(
}
