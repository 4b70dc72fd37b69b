package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	errwrap "github.com/namelens/pacer/internal/errors"
)

// ExitCodeFor maps a command error to a foundry exit code. Envelopes carry
// their own mapping; plain errors exit with ExitFailure.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitCode(0)
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		return errwrap.ExitCodeFromEnvelope(envelope)
	}
	return foundry.ExitFailure
}

// ExitWithCode logs err with the exit code metadata from the foundry catalog
// and terminates the process. logger may be nil before logging is set up.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr writes msg and err to stderr and exits. Use it for
// failures before the CLI logger exists and from main.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)

	switch envelope, isEnvelope := err.(*errors.ErrorEnvelope); {
	case err == nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	case isEnvelope:
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if original, ok := envelope.Original.(error); ok && original != nil {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", original)
		}
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	}

	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
