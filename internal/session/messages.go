package session

const (
	msgHelp = "🎧 Send me two songs and I'll put one in each ear.\n\n" +
		"• 'mix X and Y'\n" +
		"• 'left: X, right: Y'\n" +
		"• 'X on left, Y on right'\n" +
		"• Send 2 YouTube links\n" +
		"• Upload 2 audio files\n\n" +
		"/url — send two links one by one\n" +
		"/file — upload two files one by one\n" +
		"/cancel — stop the current request"

	msgSendFirstURL   = "🔗 Send the first YouTube link (left ear)."
	msgSendSecondURL  = "✅ Got link 1! Now send the second link (right ear)."
	msgSendFirstFile  = "📁 Send the first audio file (left ear)."
	msgSendSecondFile = "✅ Got file 1! Now send the second audio file."
	msgWantURL        = "❌ I'm waiting for a YouTube link, not a file. Send a link or /cancel."
	msgOneLink        = "❌ Send one YouTube link at a time."
	msgWantFile       = "❌ I'm waiting for an audio file. Upload one or send /cancel."
	msgCancelled      = "🛑 Cancelled."
	msgNothingToStop  = "Nothing to cancel."
	msgExpired        = "⌛ Your request expired. Start again whenever you like."

	msgFinding     = "🔍 Finding songs..."
	msgMixingFiles = "🎛️ Mixing your files..."
	msgMixing      = "🎛️ Mixing audio..."
	msgDone        = "✅ Done! Sending..."
)
