package encoding

// Charset names a character set understood by Convert.
type Charset string

// Character sets selectable from an SMPP data_coding value
const (
	CharsetGSM7      Charset = "GSM7"
	CharsetUTF8      Charset = "UTF-8"
	CharsetASCII     Charset = "ANSI_X3.4-1986"
	CharsetLatin1    Charset = "ISO-8859-1"
	CharsetEUCJP     Charset = "EUC-JP"
	CharsetCyrillic  Charset = "ISO-8859-5"
	CharsetHebrew    Charset = "ISO-8859-8"
	CharsetUCS2      Charset = "UCS-2"
	CharsetISO2022JP Charset = "ISO-2022-JP"
	CharsetKSC5601   Charset = "KS_C_5601-1987"
)

// Data Coding Scheme
const (
	DataCodingDefault   byte = 0x00
	DataCodingIA5       byte = 0x01
	DataCodingBinary    byte = 0x02
	DataCodingLatin1    byte = 0x03
	DataCodingBinary2   byte = 0x04
	DataCodingJIS       byte = 0x05
	DataCodingCyrillic  byte = 0x06
	DataCodingHebrew    byte = 0x07
	DataCodingUCS2      byte = 0x08
	DataCodingPictogram byte = 0x09
	DataCodingISO2022JP byte = 0x0A
	DataCodingUTF8      byte = 0x0B
	DataCodingKanji     byte = 0x0D
	DataCodingKSC5601   byte = 0x0E
)

// SelectCharset maps a data_coding byte to the character set of the message body.
//
// Only the low nibble is significant. The GSM message waiting and message class
// groups (0xC0, 0xD0, 0xE0 and 0xF0) carry no charset of their own, so they are
// decided by the low nibble like any other value. Unassigned values fall back
// to GSM7.
func SelectCharset(dataCoding byte) Charset {
	switch dataCoding & 0x0F {
	case DataCodingDefault:
		return CharsetGSM7
	case DataCodingUTF8:
		return CharsetUTF8
	case DataCodingIA5:
		return CharsetASCII
	case DataCodingBinary, DataCodingBinary2:
		// 8-bit binary shares the GSM 03.38 value across GSM, TDMA and CDMA
		return CharsetGSM7
	case DataCodingLatin1:
		return CharsetLatin1
	case DataCodingJIS, DataCodingKanji:
		return CharsetEUCJP
	case DataCodingCyrillic:
		return CharsetCyrillic
	case DataCodingHebrew:
		return CharsetHebrew
	case DataCodingUCS2:
		return CharsetUCS2
	case DataCodingPictogram:
		return CharsetGSM7
	case DataCodingISO2022JP:
		return CharsetISO2022JP
	case DataCodingKSC5601:
		return CharsetKSC5601
	}
	return CharsetGSM7
}
