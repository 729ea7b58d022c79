package annotate

// Results - упорядоченный журнал строк. Добавлять и удалять строки
// может только движок разметки.
type Results struct {
	records []BeatRecord
}

// Len возвращает число строк
func (r *Results) Len() int {
	return len(r.records)
}

// Snapshot возвращает копию строк только для чтения
func (r *Results) Snapshot() []BeatRecord {
	out := make([]BeatRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Last возвращает последнюю строку
func (r *Results) Last() (BeatRecord, bool) {
	if len(r.records) == 0 {
		return BeatRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

// Counts возвращает число вспышек и ошибочных строк
func (r *Results) Counts() (bursts, errs int) {
	for _, rec := range r.records {
		switch rec.Burst {
		case FlagBurst:
			bursts++
		case FlagError:
			errs++
		}
	}
	return bursts, errs
}

func (r *Results) append(rec BeatRecord) {
	r.records = append(r.records, rec)
}

func (r *Results) removeLast() {
	if len(r.records) > 0 {
		r.records[len(r.records)-1] = BeatRecord{}
		r.records = r.records[:len(r.records)-1]
	}
}

func (r *Results) clone() Results {
	return Results{records: r.Snapshot()}
}
