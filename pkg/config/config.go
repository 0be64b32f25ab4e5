// Package config는 환경 변수 기반 설정 오버라이드를 제공하는 패키지입니다.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Env는 접두사가 붙은 환경 변수로 설정 값을 덮어씁니다.
// 키의 점(.)은 밑줄(_)로 바뀌므로 "database.host" 는 PREFIX_DATABASE_HOST 가 됩니다.
type Env struct {
	v *viper.Viper
}

// NewEnv는 지정된 접두사에 대한 Env 를 생성합니다.
func NewEnv(prefix string) *Env {
	v := viper.New()

	// 환경 변수 바인딩 설정
	v.SetEnvPrefix(strings.ToUpper(prefix))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Env{v: v}
}

// LoadDotEnv는 .env 파일이 있으면 환경 변수로 로드합니다. 파일이 없으면 무시합니다.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// IsSet은 키에 해당하는 환경 변수가 설정되어 있는지 확인합니다.
func (e *Env) IsSet(key string) bool {
	return e.v.IsSet(key)
}

// String은 환경 변수가 있으면 target 을 덮어씁니다.
func (e *Env) String(key string, target *string) {
	if e.v.IsSet(key) {
		*target = e.v.GetString(key)
	}
}

// Int는 환경 변수가 있으면 target 을 덮어씁니다.
func (e *Env) Int(key string, target *int) {
	if e.v.IsSet(key) {
		*target = e.v.GetInt(key)
	}
}

// Bool은 환경 변수가 있으면 target 을 덮어씁니다.
func (e *Env) Bool(key string, target *bool) {
	if e.v.IsSet(key) {
		*target = e.v.GetBool(key)
	}
}

// Duration은 "90s", "1h" 형식의 환경 변수로 target 을 덮어씁니다.
func (e *Env) Duration(key string, target *time.Duration) {
	if e.v.IsSet(key) {
		*target = e.v.GetDuration(key)
	}
}

// StringSlice는 콤마로 구분된 환경 변수로 target 을 덮어씁니다.
func (e *Env) StringSlice(key string, target *[]string) {
	if !e.v.IsSet(key) {
		return
	}
	parts := strings.Split(e.v.GetString(key), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*target = out
}
