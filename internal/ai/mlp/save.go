package mlp

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// FileName of the model saved in a checkpoint directory. The previous version is kept with a "~" suffix.
const FileName = "mlp.bin"

// savedModel is the gob-encoded content of FileName.
type savedModel struct {
	Sizes   []int
	Weights [][]byte // mat.Dense binary encoding.
	Biases  [][]byte // mat.VecDense binary encoding.
	Config  Config
}

// WriteToDirectory implements ai.Approximator.
//
// It writes the model to a temporary file, renames any existing FileName to FileName+"~", and then
// renames the temporary file to FileName.
func (m *MLP) WriteToDirectory(dir string) error {
	m.muSave.Lock()
	defer m.muSave.Unlock()

	data, err := m.encode()
	if err != nil {
		return err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	file := filepath.Join(dir, FileName)
	tmpFile := file + ".tmp"
	if err = os.WriteFile(tmpFile, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to save %s", tmpFile)
	}

	// Rename existing file, if it exists.
	if _, err = os.Stat(file); err == nil {
		err = os.Rename(file, file+"~")
		if err != nil {
			return errors.Wrapf(err, "failed to rename %s to %s", file, file+"~")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", file)
	}
	if err = os.Rename(tmpFile, file); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", tmpFile, file)
	}
	klog.V(1).Infof("Saved %s to %s", m, file)
	return nil
}

func (m *MLP) encode() ([]byte, error) {
	m.muLearning.RLock()
	defer m.muLearning.RUnlock()
	saved := savedModel{Sizes: m.sizes, Config: m.config}
	for l := range m.weights {
		w, err := m.weights[l].MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode weights of layer %d", l)
		}
		b, err := m.biases[l].MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode biases of layer %d", l)
		}
		saved.Weights = append(saved.Weights, w)
		saved.Biases = append(saved.Biases, b)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&saved); err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", m)
	}
	return buf.Bytes(), nil
}

// ReadFromDirectory loads a model saved with WriteToDirectory.
// If there is no model in dir, the error wraps fs.ErrNotExist.
func ReadFromDirectory(dir string) (*MLP, error) {
	file := filepath.Join(dir, FileName)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model from %s", file)
	}
	var saved savedModel
	if err = gob.NewDecoder(bytes.NewReader(data)).Decode(&saved); err != nil {
		return nil, errors.Wrapf(err, "failed to decode model in %s", file)
	}
	numLayers := len(saved.Sizes)
	if numLayers < 2 || len(saved.Weights) != numLayers-1 || len(saved.Biases) != numLayers-1 {
		return nil, errors.Errorf("corrupted model in %s: %d layer sizes for %d weights and %d biases",
			file, numLayers, len(saved.Weights), len(saved.Biases))
	}
	m := &MLP{sizes: saved.Sizes, config: saved.Config}
	for l := range numLayers - 1 {
		w := &mat.Dense{}
		if err = w.UnmarshalBinary(saved.Weights[l]); err != nil {
			return nil, errors.Wrapf(err, "failed to decode weights of layer %d in %s", l, file)
		}
		b := &mat.VecDense{}
		if err = b.UnmarshalBinary(saved.Biases[l]); err != nil {
			return nil, errors.Wrapf(err, "failed to decode biases of layer %d in %s", l, file)
		}
		if rows, cols := w.Dims(); rows != saved.Sizes[l+1] || cols != saved.Sizes[l] || b.Len() != saved.Sizes[l+1] {
			return nil, errors.Errorf("corrupted model in %s: layer %d has weights of shape [%d, %d] and %d biases, expected sizes %v",
				file, l, rows, cols, b.Len(), saved.Sizes)
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
	}
	klog.V(1).Infof("Loaded %s from %s", m, file)
	return m, nil
}
