// Пакет acl — политики доступа к объектам хранилища.
//
// S3-совместимое хранилище не имеет ACL на уровне объекта, поэтому
// политика хранится в пользовательских метаданных объекта (x-amz-meta-*).
// codec.go — кодирование/декодирование политики в метаданные,
// resolver.go — принятие решения allow/deny.
package acl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/validation"
)

// Ключи метаданных политики. S3 приводит ключи к нижнему регистру.
const (
	MetaOwner      = "acl-owner"
	MetaVisibility = "acl-visibility"
	MetaRules      = "acl-rules"
	MetaVersion    = "acl-version"
)

// metaPrefix — общий префикс ключей политики.
const metaPrefix = "acl-"

// currentVersion — версия формата метаданных.
const currentVersion = "1"

// maxMetadataSize — максимальный суммарный размер метаданных (ключи + значения).
// Ограничение S3 на пользовательские метаданные — 2 КБ.
const maxMetadataSize = 2048

// Ошибки кодека.
var (
	// ErrNoPolicy — у объекта нет метаданных политики.
	ErrNoPolicy = errors.New("у объекта нет политики доступа")
	// ErrMalformedPolicy — метаданные политики повреждены или неполны.
	ErrMalformedPolicy = errors.New("повреждённая политика доступа")
	// ErrInvalidPolicy — политика не прошла валидацию при кодировании.
	ErrInvalidPolicy = errors.New("недопустимая политика доступа")
)

// Metadata — пользовательские метаданные объекта (ключ → значение).
type Metadata map[string]string

// Encode кодирует политику в метаданные объекта.
// Правила сериализуются одним JSON-полем acl-rules (порядок сохраняется).
func Encode(policy *model.ObjectPolicy) (Metadata, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: пустая политика", ErrInvalidPolicy)
	}
	if err := validation.Struct(policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	rules := policy.Rules
	if rules == nil {
		rules = []model.AccessRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации правил: %w", err)
	}

	meta := Metadata{
		MetaOwner:      policy.OwnerID,
		MetaVisibility: string(policy.Visibility),
		MetaRules:      string(rulesJSON),
		MetaVersion:    currentVersion,
	}

	if size := meta.size(); size > maxMetadataSize {
		return nil, fmt.Errorf("%w: размер метаданных (%d байт) превышает максимум (%d байт)",
			ErrInvalidPolicy, size, maxMetadataSize)
	}

	return meta, nil
}

// Decode восстанавливает политику из метаданных объекта.
//
// Ошибки:
//   - ErrNoPolicy — ни одного ключа acl-* нет;
//   - ErrMalformedPolicy — нет владельца или видимости, либо они/правила не разбираются.
//
// Посторонние ключи и неизвестные поля правил игнорируются.
func Decode(meta map[string]string) (*model.ObjectPolicy, error) {
	normalized := make(map[string]string, len(meta))
	for k, v := range meta {
		normalized[strings.ToLower(k)] = v
	}

	hasPolicy := false
	for k := range normalized {
		if strings.HasPrefix(k, metaPrefix) {
			hasPolicy = true
			break
		}
	}
	if !hasPolicy {
		return nil, ErrNoPolicy
	}

	owner := normalized[MetaOwner]
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: отсутствует владелец", ErrMalformedPolicy)
	}

	visibility := model.Visibility(strings.ToLower(strings.TrimSpace(normalized[MetaVisibility])))
	if !visibility.IsValid() {
		return nil, fmt.Errorf("%w: недопустимая видимость %q", ErrMalformedPolicy, normalized[MetaVisibility])
	}

	rules := []model.AccessRule{}
	if raw, ok := normalized[MetaRules]; ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &rules); err != nil {
			return nil, fmt.Errorf("%w: правила не разбираются: %v", ErrMalformedPolicy, err)
		}
		if rules == nil {
			rules = []model.AccessRule{}
		}
	}

	return &model.ObjectPolicy{
		OwnerID:    owner,
		Visibility: visibility,
		Rules:      rules,
	}, nil
}

// size возвращает суммарный размер ключей и значений.
func (m Metadata) size() int {
	n := 0
	for k, v := range m {
		n += len(k) + len(v)
	}
	return n
}
