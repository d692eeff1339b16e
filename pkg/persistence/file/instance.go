package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
)

// InstanceRepository handles instance-related file operations.
type InstanceRepository struct {
	root string // File system root for storing instances
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

// List returns all instances from the file system, newest first.
func (ir *InstanceRepository) List(ctx context.Context) ([]*models.Instance, error) {
	root := os.DirFS(ir.root + "/instances")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.Instance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		instanceID := file[:len(file)-5] // Remove .json extension

		instance, err := ir.GetByID(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})

	return instances, nil
}

// GetByID retrieves an instance by its ID from the file system.
func (ir *InstanceRepository) GetByID(_ context.Context, instanceID string) (*models.Instance, error) {
	filePath := filepath.Clean(path.Join(ir.root, "instances", instanceID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewInstanceError("InstanceByID", instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to fetch instance %s: %w", instanceID, err)
	}

	var instance models.Instance

	err = json.Unmarshal(body, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", instanceID, err)
	}

	return &instance, nil
}

// Save writes an instance to the file system, replacing any previous document.
func (ir *InstanceRepository) Save(_ context.Context, instance *models.Instance) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	err := os.MkdirAll(ir.root+"/instances", 0750)
	if err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	filePath := path.Join(ir.root+"/instances", instance.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
