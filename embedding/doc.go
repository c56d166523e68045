// Package embedding builds the catalog embedding matrix.
//
// Every catalog record is rendered with CatalogRecord.Text, embedded in
// batches through an ai.Embedder and written as an index directory
// (index_manifest.json + vectors.f32) that the search engine loads at
// startup. Vectors are cached by model and content hash so that rebuilding
// after a catalog edit only embeds the rows that changed.
//
// This package supports concurrent batch processing, progress tracking and
// retry with exponential backoff.
package embedding
