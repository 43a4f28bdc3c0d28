package source

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/ritstream/pkg/models"
)

func TestDuckDBSource_Pagination(t *testing.T) {
	ctx := context.Background()
	src, err := Open(ctx, Config{Driver: DriverDuckDB, DSN: "", Snapshot: true}, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.DB().Exec(`CREATE TABLE ritdb1 (
		"sequence" BIGINT NOT NULL,
		"entityID" BIGINT NOT NULL,
		"indexID" BIGINT NOT NULL,
		"name" VARCHAR NOT NULL,
		"value" DOUBLE,
		"value2" VARCHAR
	)`)
	require.NoError(t, err)

	// Inserted out of order; pages must still come back by sequence.
	for _, seq := range []int64{4, 1, 5, 3, 2} {
		_, err := src.DB().Exec(
			`INSERT INTO ritdb1 VALUES (?, ?, ?, ?, ?, ?)`,
			seq, seq*10, seq%2, "temp", float64(seq)+0.5, "c",
		)
		require.NoError(t, err)
	}

	n, err := src.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	cursor := models.Cursor{PageSize: 2}
	var seqs []int64
	for {
		page, err := src.FetchPage(ctx, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seqs = append(seqs, r.Sequence)
			assert.Equal(t, models.KindFloat, r.Value.Kind())
			require.NotNil(t, r.Value2)
			assert.Equal(t, "c", *r.Value2)
		}
		cursor.Advance(len(page))
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
}
