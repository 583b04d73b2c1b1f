package linear

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileName of the model saved in a checkpoint directory. The previous version is kept with a "~" suffix.
//
// It is a text file: a header line with the input and output sizes ("<input_size> <output_size>"),
// followed by one weight per line. Empty lines and lines starting with "#" or "//" are ignored.
const FileName = "linear.txt"

// WriteToDirectory implements ai.Approximator.
func (l *Linear) WriteToDirectory(dir string) error {
	l.muSave.Lock()
	defer l.muSave.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	file := filepath.Join(dir, FileName)
	tmpFile := file + ".tmp"
	if err := os.WriteFile(tmpFile, []byte(l.encode()), 0644); err != nil {
		return errors.Wrapf(err, "failed to save %s", tmpFile)
	}

	// Rename existing file, if it exists.
	if _, err := os.Stat(file); err == nil {
		err = os.Rename(file, file+"~")
		if err != nil {
			return errors.Wrapf(err, "failed to rename %s to %s", file, file+"~")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", file)
	}
	if err := os.Rename(tmpFile, file); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", tmpFile, file)
	}
	klog.V(1).Infof("Saved %s to %s", l, file)
	return nil
}

func (l *Linear) encode() string {
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "# %s: learning_rate=%g, l2_reg=%g, gradient_l2_clip=%g\n",
		l, l.LearningRate, l.L2Reg, l.GradientL2Clip)
	_, _ = fmt.Fprintf(&sb, "%d %d\n", l.inputSize, l.outputSize)
	for move := range l.outputSize {
		_, _ = fmt.Fprintf(&sb, "// move #%d\n", move)
		for _, value := range l.row(move) {
			sb.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// ReadFromDirectory loads a Linear model saved with WriteToDirectory.
// If there is no model in dir, the error wraps fs.ErrNotExist.
// Hyperparameters are not saved, they are reset to their defaults.
func ReadFromDirectory(dir string) (*Linear, error) {
	file := filepath.Join(dir, FileName)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", file)
	}
	var (
		inputSize, outputSize int
		headerRead            bool
		weights               []float64
	)
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			// Skip empty lines and comments.
			continue
		}
		if !headerRead {
			if _, err = fmt.Sscanf(line, "%d %d", &inputSize, &outputSize); err != nil {
				return nil, errors.Wrapf(err, "failed to parse sizes in %s, line #%d", file, lineNum+1)
			}
			headerRead = true
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse value in %s, line #%d", file, lineNum+1)
		}
		weights = append(weights, value)
	}
	if !headerRead {
		return nil, errors.Errorf("no model sizes found in %s", file)
	}
	l, err := NewWithWeights(inputSize, outputSize, weights)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid model in %s", file)
	}
	return l, nil
}
