package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const ENV_FILE = ".env"
const CONFIG_FILE = "config.yaml"

type AppConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// APIConfig 는 채팅 백엔드 호출에 대한 공통 설정이다.
// BaseURL 은 /user, /messages, /session, /message 엔드포인트의 공통 prefix 까지 포함한다.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds 는 요청 단위 타임아웃이다. 0 이하면 기본 30초를 사용한다.
	// (어시스턴트 응답 생성이 느린 경우가 있어 일반 API 보다 길게 잡는다.)
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// AuthConfig 는 로컬 자격증명 파일 위치를 정의한다.
// 상대 경로인 경우 홈 디렉터리 기준으로 해석한다.
type AuthConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

var config *AppConfig

func InitApp() {
	// load environment variables
	godotenv.Load(filepath.Join(GetBasePath(), ENV_FILE))

	// load configuration file
	data, err := os.ReadFile(filepath.Join(GetBasePath(), CONFIG_FILE))
	if err != nil {
		panic(err)
	}

	var c AppConfig
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		panic(err)
	}
	config = &c
}

func GetConfig() AppConfig {
	if config == nil {
		InitApp()
	}

	return *config
}

func GetBasePath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		cfgPath := filepath.Join(dir, CONFIG_FILE)
		if info, err := os.Stat(cfgPath); err == nil && !info.IsDir() {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
