package logging

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DevelopmentAndProduction(t *testing.T) {
	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestAuditSink_AppendsLineAndIsGreppable(t *testing.T) {
	dir := t.TempDir()
	sink, err := OpenAuditSink(dir)
	require.NoError(t, err)

	sink.Record("ratecache", SeverityNumerical, errors.New("rate below 1.0"))
	require.NoError(t, sink.Close())

	path := filepath.Join(dir, "logs.txt")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], "numerical_failure"))
	assert.True(t, strings.Contains(lines[0], "ratecache"))
}

func TestAuditSink_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	sink1, err := OpenAuditSink(dir)
	require.NoError(t, err)
	sink1.Record("ingestor", SeverityTransient, errors.New("rpc timeout"))
	require.NoError(t, sink1.Close())

	sink2, err := OpenAuditSink(dir)
	require.NoError(t, err)
	sink2.Record("ingestor", SeverityDecode, errors.New("bad field"))
	require.NoError(t, sink2.Close())

	data, err := os.ReadFile(filepath.Join(dir, "logs.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
}
