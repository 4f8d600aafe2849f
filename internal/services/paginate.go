package services

import "github.com/rs/zerolog"

// fetchPages drives offset pagination until exhaustion: it stops when a page
// comes back shorter than pageSize, empty, or in error. A failed page never
// fails the whole fetch — the partial result is kept, because an interrupted
// digest beats no digest. Termination never trusts a server-reported total.
func fetchPages[T any](log zerolog.Logger, what string, pageSize int, page func(startAt, limit int) ([]T, error)) []T {
	if pageSize <= 0 {
		pageSize = 50
	}
	var out []T
	for startAt := 0; ; startAt += pageSize {
		items, err := page(startAt, pageSize)
		if err != nil {
			log.Error().Err(err).Str("query", what).Int("start_at", startAt).
				Int("collected", len(out)).Msg("pagination stopped early")
			break
		}
		if len(items) == 0 {
			break
		}
		out = append(out, items...)
		if len(items) < pageSize {
			break
		}
	}
	return out
}
