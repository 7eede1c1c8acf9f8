package training

import (
	"fmt"
	"os"
	"strconv"

	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
)

// LogPrec is the float precision for epoch log output.
const LogPrec = 6

// EpochLog accumulates one row of training statistics per epoch in an
// etable.Table and mirrors each row to a TSV file as it lands, so a killed
// run still leaves a complete log up to its last finished epoch.
type EpochLog struct {
	Table *etable.Table

	file         *os.File
	wroteHeaders bool
}

// NewEpochLog creates an empty epoch log with the standard schema.
func NewEpochLog() *EpochLog {
	dt := &etable.Table{}
	dt.SetMetaData("name", "EpochLog")
	dt.SetMetaData("desc", "Record of performance over epochs of training")
	dt.SetMetaData("read-only", "true")
	dt.SetMetaData("precision", strconv.Itoa(LogPrec))

	dt.SetFromSchema(etable.Schema{
		{Name: "Epoch", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "TrainLoss", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "TrainAcc", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "TestLoss", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "TestAcc", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "LR", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Sigma", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
	}, 0)

	return &EpochLog{Table: dt}
}

// Open attaches the log to a TSV file. When resuming into a non-empty file,
// rows are appended and the header line is not rewritten.
func (l *EpochLog) Open(path string, resume bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open epoch log: %v", err)
	}

	l.file = file
	l.wroteHeaders = false
	if resume {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to stat epoch log: %v", err)
		}
		l.wroteHeaders = info.Size() > 0
	}

	return nil
}

// Append records one epoch and writes its TSV row.
func (l *EpochLog) Append(epoch int, trainLoss, trainAcc, testLoss, testAcc, lr, sigma float64) {
	dt := l.Table
	row := dt.Rows
	dt.SetNumRows(row + 1)

	dt.SetCellFloat("Epoch", row, float64(epoch))
	dt.SetCellFloat("TrainLoss", row, trainLoss)
	dt.SetCellFloat("TrainAcc", row, trainAcc)
	dt.SetCellFloat("TestLoss", row, testLoss)
	dt.SetCellFloat("TestAcc", row, testAcc)
	dt.SetCellFloat("LR", row, lr)
	dt.SetCellFloat("Sigma", row, sigma)

	if l.file != nil {
		if !l.wroteHeaders {
			dt.WriteCSVHeaders(l.file, etable.Tab)
			l.wroteHeaders = true
		}
		dt.WriteCSVRow(l.file, row, etable.Tab)
	}
}

// Close releases the log file, if one is open.
func (l *EpochLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
