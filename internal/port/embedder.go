package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex stores vectors by position and answers k-nearest-neighbour queries.
type VectorIndex interface {
	// Add appends vectors. The dimension is fixed by the first non-empty Add.
	Add(vectors [][]float32) error

	// Search returns up to k neighbours ordered by ascending distance.
	Search(query []float32, k int) ([]Neighbor, error)

	// Len returns the number of stored vectors.
	Len() int

	// Dimension returns the fixed dimension, or 0 before the first Add.
	Dimension() int

	// Metric names the distance function.
	Metric() string

	// Vectors exposes the stored vectors in position order. Callers must not modify them.
	Vectors() [][]float32
}

// Neighbor is a search hit: the position of the vector and its distance to the query.
type Neighbor struct {
	Position int
	Distance float64
}
