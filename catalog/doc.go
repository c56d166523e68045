// Package catalog loads the point-of-interest catalog that search results
// are joined against.
//
// The catalog is a CSV file with a header row naming at least the columns
// Name, Url, Telephone, Address and Tags. Row order defines each record's
// core.Position, which must line up with the rows of the embedding matrix.
// A Store is immutable once loaded and may be shared between goroutines.
package catalog
