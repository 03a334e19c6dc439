/*
Package log provides structured logging for the MBS Traffic Function
using zerolog.

A single global Logger is configured once via Init and read from
everywhere else in the module. WithComponent/WithSessionID/WithObjectID/
WithAcquisitionID return child loggers carrying the corresponding field,
so a packager or ingester can log with its distribution session or
object id already attached without threading a logger through every
call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	sessLog := log.WithSessionID(sess.ID)
	sessLog.Info().Str("operating_mode", dd.OperatingMode).Msg("distribution session created")

JSONOutput selects JSON (production) vs. zerolog's console writer
(development); Output defaults to os.Stdout when nil.
*/
package log
