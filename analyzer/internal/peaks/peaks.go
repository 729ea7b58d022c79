// Package peaks выделяет сердечные циклы: R-зубцы ЭКГ и систолу/диастолу
// давления в каждом цикле.
package peaks

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoPeaksFound - ни один отсчет ЭКГ не превысил порог
	ErrNoPeaksFound = errors.New("no R-peaks found")
	// ErrInsufficientPeaks - после отбраковки осталось меньше двух R-зубцов
	ErrInsufficientPeaks = errors.New("insufficient R-peaks")
	// ErrLengthMismatch - каналы разной длины
	ErrLengthMismatch = errors.New("channel lengths differ")
)

// DefaultTrigger - множитель порога R-зубца относительно среднего положительных отсчетов
const DefaultTrigger = 2.9

// FindPeaks возвращает индексы локальных максимумов с высотой >= height.
// Для плато берется середина (с округлением вниз). Если minDistance > 1,
// из пиков ближе minDistance друг к другу остаются более высокие.
func FindPeaks(x []float64, height float64, minDistance int) []int {
	var found []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				mid := (i + ahead - 1) / 2
				if x[mid] >= height {
					found = append(found, mid)
				}
				i = ahead
				continue
			}
		}
		i++
	}

	if minDistance > 1 && len(found) > 1 {
		found = pruneByDistance(x, found, minDistance)
	}
	return found
}

// pruneByDistance убирает пики ближе minDistance, начиная с самых высоких
func pruneByDistance(x []float64, found []int, minDistance int) []int {
	order := make([]int, len(found))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[found[order[a]]] > x[found[order[b]]]
	})

	keep := make([]bool, len(found))
	for i := range keep {
		keep[i] = true
	}
	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && found[j]-found[k] < minDistance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(found) && found[k]-found[j] < minDistance; k++ {
			keep[k] = false
		}
	}

	out := found[:0:0]
	for i, p := range found {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// RejectSpurious удаляет пик, если интервал до него короче половины
// среднего интервала. Проход один, среднее не пересчитывается.
func RejectSpurious(found []int) []int {
	if len(found) < 3 {
		return append([]int(nil), found...)
	}

	diffs := make([]float64, len(found)-1)
	for i := range diffs {
		diffs[i] = float64(found[i+1] - found[i])
	}
	limit := 0.5 * stat.Mean(diffs, nil)

	out := make([]int, 0, len(found))
	out = append(out, found[0])
	for i, d := range diffs {
		if d < limit {
			continue
		}
		out = append(out, found[i+1])
	}
	return out
}

// Threshold - порог R-зубца: среднее положительных отсчетов, умноженное на trigger
func Threshold(ecg []float64, trigger float64) (float64, error) {
	var positive []float64
	for _, v := range ecg {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return 0, fmt.Errorf("%w: signal has no positive samples", ErrNoPeaksFound)
	}
	return stat.Mean(positive, nil) * trigger, nil
}

// Cycles - обрезанные сигналы и индексы опорных точек.
// R[0] == 0, SBP и DBP содержат по одному индексу на цикл.
// После блокировки конфигурации структура только читается.
type Cycles struct {
	ECG  []float64
	BP   []float64
	MSNA []float64

	R   []int
	SBP []int
	DBP []int
}

// Count возвращает число циклов (R-интервалов)
func (c *Cycles) Count() int {
	if len(c.R) == 0 {
		return 0
	}
	return len(c.R) - 1
}

// Detect находит R-зубцы, отбраковывает ложные, обрезает сигналы
// по первому и последнему зубцу и ищет экстремумы давления
// в первой половине каждого интервала.
func Detect(ecg, bp, msna []float64, trigger float64, minDistance int) (*Cycles, error) {
	if len(bp) != len(ecg) || len(msna) != len(ecg) {
		return nil, fmt.Errorf("%w: ecg=%d bp=%d msna=%d", ErrLengthMismatch, len(ecg), len(bp), len(msna))
	}

	height, err := Threshold(ecg, trigger)
	if err != nil {
		return nil, err
	}

	found := FindPeaks(ecg, height, minDistance)
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: threshold %.4f", ErrNoPeaksFound, height)
	}

	found = RejectSpurious(found)
	if len(found) < 2 {
		return nil, fmt.Errorf("%w: %d accepted", ErrInsufficientPeaks, len(found))
	}

	first, last := found[0], found[len(found)-1]
	c := &Cycles{
		ECG:  crop(ecg, first, last),
		BP:   crop(bp, first, last),
		MSNA: crop(msna, first, last),
		R:    make([]int, len(found)),
		SBP:  make([]int, len(found)-1),
		DBP:  make([]int, len(found)-1),
	}
	for i, p := range found {
		c.R[i] = p - first
	}

	for i := 1; i < len(c.R); i++ {
		lo := c.R[i-1]
		hi := lo + (c.R[i]-c.R[i-1])/2
		if hi <= lo {
			hi = lo + 1
		}
		span := c.BP[lo:hi]
		c.SBP[i-1] = lo + floats.MaxIdx(span)
		c.DBP[i-1] = lo + floats.MinIdx(span)
	}

	return c, nil
}

// Validate проверяет инварианты: индексы строго возрастают и лежат в сигнале
func (c *Cycles) Validate() error {
	n := len(c.ECG)
	if len(c.BP) != n || len(c.MSNA) != n {
		return ErrLengthMismatch
	}
	if len(c.R) < 2 {
		return ErrInsufficientPeaks
	}
	if len(c.SBP) != len(c.R)-1 || len(c.DBP) != len(c.R)-1 {
		return fmt.Errorf("expected %d BP extrema, got sbp=%d dbp=%d", len(c.R)-1, len(c.SBP), len(c.DBP))
	}
	for i, p := range c.R {
		if p < 0 || p >= n {
			return fmt.Errorf("R-peak %d out of range: %d", i, p)
		}
		if i > 0 && p <= c.R[i-1] {
			return fmt.Errorf("R-peaks not strictly increasing at %d", i)
		}
	}
	for i := range c.SBP {
		if err := inCycle(c.SBP[i], c.R[i], c.R[i+1]); err != nil {
			return fmt.Errorf("sbp %d: %w", i, err)
		}
		if err := inCycle(c.DBP[i], c.R[i], c.R[i+1]); err != nil {
			return fmt.Errorf("dbp %d: %w", i, err)
		}
	}
	return nil
}

func inCycle(idx, lo, hi int) error {
	if idx < lo || idx >= hi {
		return fmt.Errorf("index %d outside cycle [%d, %d)", idx, lo, hi)
	}
	return nil
}

func crop(x []float64, first, last int) []float64 {
	out := make([]float64, last-first+1)
	copy(out, x[first:last+1])
	return out
}
