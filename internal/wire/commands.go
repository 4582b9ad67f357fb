package wire

// Fixed commands are pre-built so the hot path does not allocate.
var (
	CmdCapabilities   = []byte("CAPABILITIES\r\n")
	CmdDate           = []byte("DATE\r\n")
	CmdQuit           = []byte("QUIT\r\n")
	CmdStat           = []byte("STAT\r\n")
	CmdNext           = []byte("NEXT\r\n")
	CmdLast           = []byte("LAST\r\n")
	CmdArticle        = []byte("ARTICLE\r\n")
	CmdHead           = []byte("HEAD\r\n")
	CmdBody           = []byte("BODY\r\n")
	CmdList           = []byte("LIST\r\n")
	CmdListGroup      = []byte("LISTGROUP\r\n")
	CmdXOver          = []byte("XOVER\r\n")
	CmdModeReader     = []byte("MODE READER\r\n")
	CmdCompress       = []byte("COMPRESS DEFLATE\r\n")
	CmdXFeatureGzip   = []byte("XFEATURE COMPRESS GZIP\r\n")
	CmdAuthSASLCancel = []byte("AUTHINFO SASL *\r\n")
)
