package Transformer

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// cpg 文件中常见的代码页写法
var codePages = map[string]string{
	"936":      "gbk",
	"cp936":    "gbk",
	"gb2312":   "gbk",
	"gb-18030": "gb18030",
	"1252":     "windows-1252",
	"88591":    "iso-8859-1",
	"8859_1":   "iso-8859-1",
	"65001":    "utf-8",
	"utf8":     "utf-8",
}

// textDecoder DBF 文本解码，UTF-8 时 dec 为 nil
type textDecoder struct {
	dec *encoding.Decoder
}

// newTextDecoder 优先使用 .cpg 声明的编码，否则对 .dbf 内容做编码检测
func newTextDecoder(cpg, shpPath string) *textDecoder {
	name := cpg
	if name == "" {
		data, err := os.ReadFile(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".dbf")
		if err == nil {
			// 跳过 DBF 文件头，只检测记录区
			if len(data) >= 10 {
				if hdr := int(data[8]) | int(data[9])<<8; hdr < len(data) {
					data = data[hdr:]
				}
			}
			name = DetectCharset(data)
		}
	}
	return &textDecoder{dec: decoderFor(name)}
}

func decoderFor(name string) *encoding.Decoder {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := codePages[key]; ok {
		key = mapped
	}
	switch key {
	case "", "utf-8", "ascii", "us-ascii":
		return nil
	case "gbk":
		return simplifiedchinese.GBK.NewDecoder()
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		return nil
	}
	return enc.NewDecoder()
}

// String 解码，已是合法 UTF-8 且只含 ASCII 时原样返回
func (d *textDecoder) String(s string) string {
	if d.dec == nil || isASCII(s) {
		return s
	}
	out, err := d.dec.String(s)
	if err != nil || !utf8.ValidString(out) {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// DetectCharset 检测字节内容的编码，检测失败时返回空串
func DetectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return ""
	}
	return result.Charset
}
