package index

// Option configures a Store.
type Option func(*Store)

// WithPageSize overrides the fixed listing page size.
func WithPageSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.pageSize = size
		}
	}
}
