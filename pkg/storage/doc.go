// Package storage contains the state interfaces of a partition, so that different state backends can be implemented.
//
// Interfaces in this package must:
//   - return ErrNotFound if the method is looking for one exact item and it is not found
//   - return empty array for methods that can return multiple results and no result is found
//   - return results of multi-value lookups ordered by key, which is the order of creation
//   - return copies; mutations become visible only through the matching writer method
package storage
