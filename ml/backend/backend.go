// backend.go - Laedt alle eingebauten Backends
package backend

import (
	_ "github.com/ollama/estimator/ml/backend/eager"
)
