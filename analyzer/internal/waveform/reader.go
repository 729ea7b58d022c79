package waveform

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrFormat возвращается при любом нарушении формата входного файла
var ErrFormat = errors.New("invalid recording format")

// FieldsPerLine - число колонок в строке: ECG BP MSNA
const FieldsPerLine = 3

// FormatError описывает строку, на которой остановилась загрузка
type FormatError struct {
	Line   int
	Fields int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("invalid recording format: %s", e.Reason)
	}
	return fmt.Sprintf("invalid recording format at line %d: %s", e.Line, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Recording содержит три синхронно записанных сигнала одинаковой длины
type Recording struct {
	ECG  []float64
	BP   []float64
	MSNA []float64
}

// Len возвращает число отсчетов
func (r *Recording) Len() int {
	return len(r.ECG)
}

// Read читает текстовую запись "ECG BP MSNA" построчно.
// При ошибке формата частичный результат не возвращается.
func Read(r io.Reader) (*Recording, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ecg, bp, msna []float64
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) != FieldsPerLine {
			return nil, &FormatError{
				Line:   line,
				Fields: len(fields),
				Reason: fmt.Sprintf("expected %d fields, got %d", FieldsPerLine, len(fields)),
			}
		}

		var values [FieldsPerLine]float64
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, &FormatError{
					Line:   line,
					Fields: len(fields),
					Reason: fmt.Sprintf("field %d is not a number: %q", i+1, field),
				}
			}
			values[i] = v
		}

		ecg = append(ecg, values[0])
		bp = append(bp, values[1])
		msna = append(msna, values[2])
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	if line == 0 {
		return nil, &FormatError{Reason: "recording is empty"}
	}

	return &Recording{ECG: ecg, BP: bp, MSNA: msna}, nil
}

// ReadFile открывает файл записи, *.gz распаковывается на лету
func ReadFile(filename string) (*Recording, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording %s: %w", filename, err)
	}
	defer file.Close()

	return ReadNamed(file, filename)
}

// ReadNamed читает запись из потока; имя нужно только для выбора
// распаковки (*.gz) и сообщений об ошибках
func ReadNamed(r io.Reader, name string) (*Recording, error) {
	if !strings.HasSuffix(name, ".gz") {
		return Read(r)
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", name, err)
	}
	defer zr.Close()

	return Read(zr)
}

// Write сохраняет запись в том же текстовом формате
func Write(w io.Writer, rec *Recording) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < rec.Len(); i++ {
		if _, err := fmt.Fprintf(bw, "%s %s %s\n",
			strconv.FormatFloat(rec.ECG[i], 'g', -1, 64),
			strconv.FormatFloat(rec.BP[i], 'g', -1, 64),
			strconv.FormatFloat(rec.MSNA[i], 'g', -1, 64),
		); err != nil {
			return fmt.Errorf("failed to write sample %d: %w", i, err)
		}
	}
	return bw.Flush()
}
