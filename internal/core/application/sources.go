package application

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/pkg/errors"
)

const sourceFieldCount = 4

// loadSourceFile reads the batch source at path. See parseSources.
func loadSourceFile(path string) ([]domain.TransferDescriptor, []errors.Error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading source file: %w", err)
	}
	// nolint:all
	defer f.Close()

	return parseSources(f)
}

// parseSources reads one descriptor per line:
// currentAddress,ownerKeyMaterial,assetLocalId,destinationAddress.
// Blank lines are skipped. Malformed lines are returned as errors and do not
// stop the parsing.
func parseSources(r io.Reader) ([]domain.TransferDescriptor, []errors.Error, error) {
	descriptors := make([]domain.TransferDescriptor, 0)
	invalid := make([]errors.Error, 0)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		descriptor, err := parseSourceLine(lineNum, line)
		if err != nil {
			invalid = append(invalid, err)
			continue
		}
		descriptors = append(descriptors, *descriptor)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("error loading source file: %w", err)
	}

	return descriptors, invalid, nil
}

func parseSourceLine(lineNum int, line string) (*domain.TransferDescriptor, errors.Error) {
	fields := strings.Split(line, ",")
	if len(fields) != sourceFieldCount {
		return nil, errors.INVALID_SOURCE_LINE.New(
			"line %d: expected %d fields, got %d", lineNum, sourceFieldCount, len(fields),
		).WithMetadata(errors.SourceLineMetadata{Line: lineNum, Content: redactKey(fields)})
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	localId, ok := new(big.Int).SetString(fields[2], 10)
	if !ok || localId.Sign() < 0 {
		return nil, errors.INVALID_SOURCE_LINE.New(
			"line %d: invalid local id %q", lineNum, fields[2],
		).WithMetadata(errors.SourceLineMetadata{Line: lineNum, Content: redactKey(fields)})
	}

	return &domain.TransferDescriptor{
		Line:            lineNum,
		SourceAddr:      fields[0],
		OwnerKey:        fields[1],
		LocalId:         localId,
		DestinationAddr: fields[3],
	}, nil
}

// redactKey drops the key material from a source line before it gets logged.
func redactKey(fields []string) string {
	redacted := append([]string{}, fields...)
	if len(redacted) > 1 {
		redacted[1] = "***"
	}
	return strings.Join(redacted, ",")
}
