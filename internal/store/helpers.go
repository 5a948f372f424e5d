package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quarryworks/quarry/internal/models"
)

const maxListLimit = 500

// formatEmbedding renders a vector in pgvector's text format: "[0.1,0.2,...]".
func formatEmbedding(vec []float32) string {
	var sb strings.Builder

	sb.WriteByte('[')

	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}

	sb.WriteByte(']')

	return sb.String()
}

// translateDBError maps constraint violations to domain sentinel errors.
func translateDBError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return models.ErrDuplicateKey
		case "23503":
			return models.ErrResourceConflict
		}
	}

	return err
}
