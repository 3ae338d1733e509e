// Package feed holds the types shared by the registry, the listers and the
// relay engine: tracked sources, fetched items, and the upstream error
// taxonomy every Lister maps its transport failures onto.
package feed
