package repository

import "github.com/pgvector/pgvector-go"

// toVector returns nil for an empty fingerprint so the column stays NULL.
func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil || len(v.Slice()) == 0 {
		return nil
	}
	return v.Slice()
}
