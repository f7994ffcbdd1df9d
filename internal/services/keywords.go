package services

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Keywords holds the rule-based dictionaries shared by the scanner, the
// query cleaner fallback and the memory enricher.
type Keywords struct {
	Substances  map[string][]string `yaml:"substances"`
	Topics      map[string][]string `yaml:"topics"`
	Localities  []string            `yaml:"localities"`
	IntentWords []string            `yaml:"intent_words"`
}

// LoadKeywords reads the YAML dictionary file. A missing or unreadable file
// falls back to the built-in defaults with a warning; keyword tuning must
// never keep the service from starting.
func LoadKeywords(path string) *Keywords {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️ [KEYWORDS] Could not read %s (%v), using built-in defaults", path, err)
		return DefaultKeywords()
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		log.Printf("⚠️ [KEYWORDS] Could not parse %s (%v), using built-in defaults", path, err)
		return DefaultKeywords()
	}

	// Tolerate partially filled files
	defaults := DefaultKeywords()
	if len(kw.Substances) == 0 {
		kw.Substances = defaults.Substances
	}
	if len(kw.Topics) == 0 {
		kw.Topics = defaults.Topics
	}
	if len(kw.Localities) == 0 {
		kw.Localities = defaults.Localities
	}
	if len(kw.IntentWords) == 0 {
		kw.IntentWords = defaults.IntentWords
	}

	log.Printf("✅ [KEYWORDS] Loaded dictionaries from %s (%d substance categories, %d topics)",
		path, len(kw.Substances), len(kw.Topics))
	return &kw
}

// DefaultKeywords returns the built-in dictionaries.
func DefaultKeywords() *Keywords {
	return &Keywords{
		Substances: map[string][]string{
			"stimulants":    {"安非他命", "甲基安非他命", "冰毒", "搖頭丸", "MDMA"},
			"opioids":       {"海洛因", "嗎啡", "鴉片", "美沙冬"},
			"dissociatives": {"K他命", "愷他命", "笑氣"},
			"cannabis":      {"大麻"},
			"emerging":      {"毒咖啡包", "喪屍煙彈", "依托咪酯", "彩虹菸"},
		},
		Topics: map[string][]string{
			"drugs":       {"毒品", "戒毒", "藥癮", "吸毒", "染毒"},
			"work_stress": {"工作壓力", "加班", "失業", "上班"},
			"family":      {"家人", "家庭", "爸爸", "媽媽", "父母", "小孩"},
			"sleep":       {"睡眠", "失眠", "睡不著", "作息"},
			"medication":  {"藥物", "吃藥", "替代療法", "戒斷"},
		},
		Localities:  []string{"高雄", "鳳山", "左營", "三民", "苓雅", "前鎮", "小港", "楠梓", "旗津", "岡山"},
		IntentWords: []string{"電話", "地址", "門診", "掛號", "時間", "預約", "費用", "交通"},
	}
}
