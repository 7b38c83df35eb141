package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) [][]string {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	return rows
}

func TestStreamTSV(t *testing.T) {
	input := "nm0000001\tFred Astaire\t1899\t1987\nnm0000002\tLauren Bacall\t1924\t2014\n"

	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"nm0000001", "Fred Astaire", "1899", "1987"}, rows[0])
	assert.Equal(t, []string{"nm0000002", "Lauren Bacall", "1924", "2014"}, rows[1])
}

func TestStreamTSV_Header(t *testing.T) {
	input := "nconst\tprimaryName\tbirthYear\tdeathYear\nnm0000001\tFred Astaire\t1899\t1987\n"

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows := collectRows(t, rowCh, errCh)

	assert.Equal(t, []string{"nconst", "primaryName", "birthYear", "deathYear"}, <-headerCh)
	require.Len(t, rows, 1)
	assert.Equal(t, "nm0000001", rows[0][0])
}

func TestStreamTSV_HeaderNoChannel(t *testing.T) {
	input := "nconst\tprimaryName\nnm0000001\tFred Astaire\n"

	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{HasHeader: true})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 1)
	assert.Equal(t, "Fred Astaire", rows[0][1])
}

func TestStreamTSV_NullToken(t *testing.T) {
	input := "nm0000001\tFred Astaire\t1899\t\\N\n"

	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{NullToSkip: true})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0][3])
}

func TestStreamTSV_NullTokenPreserved(t *testing.T) {
	input := "nm0000001\t\\N\n"

	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 1)
	assert.Equal(t, `\N`, rows[0][1])
}

func TestStreamTSV_ContextCancelled(t *testing.T) {
	// Enough rows that the goroutine cannot finish inside the channel buffer.
	var sb strings.Builder
	for range 500 {
		sb.WriteString("nm0000001\tFred Astaire\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamTSV(ctx, strings.NewReader(sb.String()), TSVOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestGunzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("nm0000001\tFred Astaire\t1899\t1987\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	rc, err := Gunzip(&buf)
	require.NoError(t, err)

	rowCh, errCh := StreamTSV(context.Background(), rc, TSVOptions{})
	rows := collectRows(t, rowCh, errCh)
	require.NoError(t, rc.Close())

	require.Len(t, rows, 1)
	assert.Equal(t, "Fred Astaire", rows[0][1])
}

func TestGunzip_NotGzip(t *testing.T) {
	_, err := Gunzip(strings.NewReader("plain text"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open stream")
}
