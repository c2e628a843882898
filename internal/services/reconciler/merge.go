package reconciler

import (
	"sort"
	"time"

	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/models"
)

// Merge возвращает точки из наблюдения, которые надо дописать к history.
//
// Правила: наблюдение сортируется по времени (стабильно, при равном времени
// сохраняется порядок перевозчика); отбрасываются дубли (тот же статус и время),
// точки старше последней сохранённой и всё после терминальной точки.
// Если тег перевозчика терминальный, а последняя точка его не несёт,
// добавляется синтетическая точка с этим статусом.
func Merge(history []models.Checkpoint, obs carrier.Observation, now time.Time) []models.Checkpoint {
	observed := make([]models.Checkpoint, 0, len(obs.Checkpoints))
	for _, cp := range obs.Checkpoints {
		st, ok := models.ParseStatus(cp.Status)
		if !ok || cp.Timestamp.IsZero() {
			continue
		}
		cp.Status = st
		cp.Timestamp = cp.Timestamp.UTC()
		observed = append(observed, cp)
	}
	sort.SliceStable(observed, func(i, j int) bool {
		return observed[i].Timestamp.Before(observed[j].Timestamp)
	})

	seen := make(map[string]struct{}, len(history)+len(observed))
	for _, cp := range history {
		seen[dedupKey(cp)] = struct{}{}
	}

	var last *models.Checkpoint
	if n := len(history); n > 0 {
		last = &history[n-1]
	}

	out := make([]models.Checkpoint, 0, len(observed)+1)
	for _, cp := range observed {
		if last != nil && models.IsTerminalStatus(last.Status) {
			break
		}
		if last != nil && cp.Timestamp.Before(last.Timestamp) {
			continue
		}
		k := dedupKey(cp)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, cp)
		last = &out[len(out)-1]
	}

	if tag, ok := models.ParseStatus(obs.Tag); ok && models.IsTerminalStatus(tag) {
		if last == nil || !models.IsTerminalStatus(last.Status) {
			at := now.UTC()
			if last != nil && at.Before(last.Timestamp) {
				at = last.Timestamp
			}
			out = append(out, models.Checkpoint{
				Status:    tag,
				Message:   "Status reported by carrier",
				Timestamp: at,
			})
		}
	}

	for i := range out {
		out[i].Seq = len(history) + i
	}
	return out
}

func dedupKey(cp models.Checkpoint) string {
	return cp.Status + "|" + cp.Timestamp.UTC().Format(time.RFC3339Nano)
}
