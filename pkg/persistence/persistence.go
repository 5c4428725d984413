package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/betbot/snipebot/pkg/logger"
)

// ErrNotExists 表示快照不存在
var ErrNotExists = errors.New("persistence: snapshot not exists")

// Store 快照存储接口（账本快照重启恢复用）
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// JSONStore 基于 JSON 文件的快照存储，写入用 tmp+rename 保证原子性
type JSONStore struct {
	baseDir string
	name    string
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewJSONStore 创建指定名字的快照存储
func NewJSONStore(baseDir, name string) *JSONStore {
	return &JSONStore{
		baseDir: baseDir,
		name:    nameSanitizer.ReplaceAllString(name, "_"),
	}
}

func (s *JSONStore) filePath() string {
	return filepath.Join(s.baseDir, s.name+".json")
}

// Save 保存快照
func (s *JSONStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: %s", s.name)
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载快照
func (s *JSONStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: %s", s.name)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}
