// Package logging はlogrusの標準ロガーを環境に合わせて設定する。
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup はログレベルとフォーマッタを設定する。
// levelが空の場合、本番環境ではWARNING、それ以外ではINFOを使う。
// 本番環境ではJSON形式で出力する。
func Setup(level string, production bool) error {
	if level == "" {
		level = "INFO"
		if production {
			level = "WARNING"
		}
	}
	lv, err := ParseLevel(level)
	if err != nil {
		return err
	}

	log.SetOutput(os.Stderr)
	log.SetLevel(lv)
	if production {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// ParseLevel はログレベル名をlogrusのレベルに変換する。
// logrusの名前に加えてDEBUG、INFO、WARNING、ERROR、CRITICALや、
// 10〜50の数値表記も受け付ける。
func ParseLevel(level string) (log.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "critical", "fatal":
		return log.FatalLevel, nil
	case "warning", "warn":
		return log.WarnLevel, nil
	case "notset":
		return log.TraceLevel, nil
	}

	if n, err := strconv.Atoi(name); err == nil {
		switch {
		case n >= 50:
			return log.FatalLevel, nil
		case n >= 40:
			return log.ErrorLevel, nil
		case n >= 30:
			return log.WarnLevel, nil
		case n >= 20:
			return log.InfoLevel, nil
		case n >= 10:
			return log.DebugLevel, nil
		default:
			return log.TraceLevel, nil
		}
	}

	lv, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("不正なログレベルです: %q", level)
	}
	return lv, nil
}
