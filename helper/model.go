package helper

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

// PrepareModel downloads an embedding model if it is not cached locally and
// returns the model path. The cache directory defaults to ./models and can
// be overridden with COPILOT_MODEL_DIR.
func PrepareModel(modelName string) (string, error) {
	modelDir := os.Getenv("COPILOT_MODEL_DIR")
	if modelDir == "" {
		modelDir = "./models"
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := os.MkdirAll(modelDir, 0755); err != nil {
			return "", NewError("create model directory", err)
		}
		downloadOptions := hugot.NewDownloadOptions()
		downloadOptions.OnnxFilePath = "onnx/model.onnx"
		downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
		if err != nil {
			return "", NewError("download model", err)
		}
		modelPath = downloadedPath
	}

	return modelPath, nil
}
